// Metadata-only content probing. Some platforms (chiefly Instagram) serve
// both videos and images from the same URL shape, and the right extraction
// tool differs between the two; a short dry-run of yt-dlp disambiguates
// before any download strategy is committed to.
package probe

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/snagbot/snag/internal/tool"
	"github.com/snagbot/snag/pkg/logger"
)

var log = logger.Get("Probe")

const probeTimeout = 15 * time.Second

type (
	ContentKind int

	// Result is the transient outcome of a single probe. It is never an
	// error: every failure mode degrades to KindUnknown so the caller can
	// fall back to a default strategy.
	Result struct {
		Kind     ContentKind
		HasVideo bool
		HasAudio bool
		Duration float64
		Ext      string
		Width    int
		Height   int
		Title    string
		Uploader string
	}

	// Prober runs content-type analysis for a URL.
	Prober struct {
		runner   tool.Runner
		ytdlpBin string
	}

	// rawInfo is the subset of the yt-dlp JSON dump the probe needs.
	rawInfo struct {
		Duration float64 `json:"duration"`
		VCodec   string  `json:"vcodec"`
		ACodec   string  `json:"acodec"`
		Ext      string  `json:"ext"`
		Width    int     `json:"width"`
		Height   int     `json:"height"`
		Title    string  `json:"title"`
		Uploader string  `json:"uploader"`
	}
)

const (
	KindUnknown ContentKind = iota
	KindVideo
	KindImage
	KindMixed
	KindAuthRequired
)

var videoExts = map[string]bool{"mp4": true, "webm": true, "mov": true}
var imageExts = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true}

func New(runner tool.Runner, ytdlpBin string) *Prober {
	return &Prober{runner: runner, ytdlpBin: ytdlpBin}
}

// Analyze runs yt-dlp in dry-run JSON mode against the URL and classifies
// the content it describes. Timeouts, nonzero exits and malformed output
// all degrade to a KindUnknown (or KindAuthRequired) result.
func (p *Prober) Analyze(ctx context.Context, url string) Result {
	result, err := p.runner.Run(ctx, tool.Command{
		Bin:     p.ytdlpBin,
		Args:    []string{"--dump-json", "--no-download", "--no-warnings", url},
		Timeout: probeTimeout,
	})
	if err != nil || result.TimedOut {
		log.Emit(logger.WARNING, "Probe of %s did not complete, treating content as unknown\n", url)
		return Result{Kind: KindUnknown}
	}

	if !result.ExitZero {
		stderr := strings.ToLower(result.Stderr)
		if strings.Contains(stderr, "login") || strings.Contains(stderr, "auth") {
			return Result{Kind: KindAuthRequired}
		}

		return Result{Kind: KindUnknown}
	}

	var info rawInfo
	if err := json.Unmarshal([]byte(result.Stdout), &info); err != nil {
		log.Emit(logger.WARNING, "Probe of %s produced malformed JSON: %v\n", url, err)
		return Result{Kind: KindUnknown}
	}

	return classify(info)
}

func classify(info rawInfo) Result {
	// yt-dlp reports absent codecs as the literal string "none".
	hasVideo := info.Duration > 0 || codecPresent(info.VCodec)
	hasAudio := codecPresent(info.ACodec)
	ext := strings.ToLower(info.Ext)

	result := Result{
		Kind:     KindMixed,
		HasVideo: hasVideo,
		HasAudio: hasAudio,
		Duration: info.Duration,
		Ext:      ext,
		Width:    info.Width,
		Height:   info.Height,
		Title:    info.Title,
		Uploader: info.Uploader,
	}

	if hasVideo || videoExts[ext] {
		result.Kind = KindVideo
	} else if imageExts[ext] || (info.Width > 0 && info.Height > 0) {
		result.Kind = KindImage
	}

	return result
}

func codecPresent(codec string) bool {
	trimmed := strings.TrimSpace(codec)
	return trimmed != "" && trimmed != "none"
}

func (k ContentKind) String() string {
	switch k {
	case KindVideo:
		return "VIDEO"
	case KindImage:
		return "IMAGE"
	case KindMixed:
		return "MIXED"
	case KindAuthRequired:
		return "AUTH_REQUIRED"
	default:
		return "UNKNOWN"
	}
}
