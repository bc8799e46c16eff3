package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/snagbot/snag/internal/strategy"
)

const snagUserDirSuffix = "snag"

// SnagConfig is the struct used to contain the various user config
// supplied by file or environment.
type SnagConfig struct {
	Concurrent  ConcurrentConfig  `yaml:"concurrency"`
	Tools       ToolConfig        `yaml:"tools"`
	Credentials CredentialsConfig `yaml:"credentials"`
	ScratchRoot string            `yaml:"scratch_root" env:"SCRATCH_ROOT"`
	OutputDir   string            `yaml:"output_dir" env:"OUTPUT_DIR" validate:"required"`
	ApiHostAddr string            `yaml:"host" env:"HOST_ADDR" env-default:"0.0.0.0"`
	ApiHostPort string            `yaml:"port" env:"HOST_PORT" env-default:"8080" validate:"number"`
}

// ConcurrentConfig is a subset of the configuration that focuses only
// on the concurrency related configs (number of worker threads for the
// download pipeline).
type ConcurrentConfig struct {
	Download int `yaml:"download_threads" env:"CONCURRENCY_DOWNLOAD_THREADS" env-default:"2" validate:"gte=1,lte=16"`
}

// ToolConfig names the external binaries the pipeline shells out to.
// Bare names are resolved via PATH at spawn time.
type ToolConfig struct {
	YtDlpBin     string `yaml:"yt_dlp_bin" env:"YT_DLP_BIN" env-default:"yt-dlp" validate:"required"`
	GalleryDlBin string `yaml:"gallery_dl_bin" env:"GALLERY_DL_BIN" env-default:"gallery-dl" validate:"required"`
	FfmpegBin    string `yaml:"ffmpeg_bin" env:"FFMPEG_BIN" env-default:"ffmpeg" validate:"required"`
	FfprobeBin   string `yaml:"ffprobe_bin" env:"FFPROBE_BIN" env-default:"ffprobe" validate:"required"`
}

// CredentialsConfig holds the optional platform credentials. All fields
// may be empty; strategy planning degrades accordingly.
type CredentialsConfig struct {
	InstagramCookieFile string `yaml:"instagram_cookie_file" env:"INSTAGRAM_COOKIE_FILE" validate:"omitempty,file"`
	RedditClientID      string `yaml:"reddit_client_id" env:"REDDIT_CLIENT_ID"`
	RedditClientSecret  string `yaml:"reddit_client_secret" env:"REDDIT_CLIENT_SECRET"`
	RedditUserAgent     string `yaml:"reddit_user_agent" env:"REDDIT_USER_AGENT" env-default:"snag:media-saver:v1.0"`
}

// LoadFromFile loads a YAML configuration file into a SnagConfig and
// validates the result. Missing file fields fall back to environment
// variables and declared defaults.
func (config *SnagConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration - %v", err.Error())
	}

	return config.validate()
}

// LoadFromEnv populates the config purely from environment variables and
// defaults, for deployments without a config file.
func (config *SnagConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment - %v", err.Error())
	}

	return config.validate()
}

func (config *SnagConfig) validate() error {
	if config.ScratchRoot == "" {
		config.ScratchRoot = config.defaultScratchRoot()
	}

	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("configuration invalid - %v", err.Error())
	}

	return nil
}

// StrategyCredentials converts the config-level credential block into the
// form strategy planning consumes.
func (config *SnagConfig) StrategyCredentials() strategy.Credentials {
	return strategy.Credentials{
		InstagramCookieFile: config.Credentials.InstagramCookieFile,
		RedditClientID:      config.Credentials.RedditClientID,
		RedditClientSecret:  config.Credentials.RedditClientSecret,
		RedditUserAgent:     config.Credentials.RedditUserAgent,
	}
}

// defaultScratchRoot derives a per-user scratch directory when none is
// configured. Falls back to the system temp dir if the user cache dir
// cannot be determined.
func (config *SnagConfig) defaultScratchRoot() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), snagUserDirSuffix)
	}

	return filepath.Join(dir, snagUserDirSuffix)
}
