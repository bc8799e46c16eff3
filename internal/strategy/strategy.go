// Tool-selection policy. Given a platform tag (and, for platforms that
// need disambiguation, a content probe result) the selector produces the
// ordered chain of tool invocations the executor should attempt. This is
// pure decision logic: no I/O happens here, which is what makes the
// platform->strategy mapping directly testable.
package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/snagbot/snag/internal/platform"
	"github.com/snagbot/snag/internal/probe"
)

// ErrCredentialsRequired aborts planning for auth-gated content when no
// stored credential is configured. It is surfaced to the user as an
// actionable request rather than a generic failure.
var ErrCredentialsRequired = errors.New("content requires authentication but no credentials are configured")

type (
	Tool int

	// Step is one entry of a fallback chain: which tool to run, how to
	// invoke it, and how long it may take.
	Step struct {
		Tool            Tool
		FormatSelector  string
		MergeContainer  string
		Timeout         time.Duration
		UseCookies      bool
		UseRedditConfig bool
		OutputSuffix    string
	}

	// Credentials is the read-only credential store consulted during
	// planning. Zero values mean "not configured".
	Credentials struct {
		InstagramCookieFile string
		RedditClientID      string
		RedditClientSecret  string
		RedditUserAgent     string
	}
)

const (
	YtDlp Tool = iota
	GalleryDl
)

const (
	ytdlpBaseTimeout     = 30 * time.Second
	ytdlpExtendedTimeout = 60 * time.Second
	galleryBaseTimeout   = 20 * time.Second
	galleryLongTimeout   = 45 * time.Second
	formatTimeout        = 45 * time.Second
	fallbackTimeout      = 30 * time.Second

	defaultSelector = "best[height<=720][acodec!=none]/best[acodec!=none]/best"

	// Split-stream platforms download best video and best audio separately
	// when a remux tool can merge them afterwards, and prefer combined
	// streams otherwise.
	splitSelector         = "bestvideo[height<=720]+bestaudio/best[height<=720]"
	splitCombinedSelector = "best[height<=720][acodec!=none]/bestvideo[height<=720]+bestaudio/best[height<=720]/best"
)

func (c Credentials) HasInstagramCookies() bool {
	return c.InstagramCookieFile != ""
}

func (c Credentials) HasRedditAPI() bool {
	return c.RedditClientID != "" && c.RedditClientSecret != ""
}

// Plan computes the ordered tool chain for a download. The probe result is
// only consulted for Instagram; every other platform passes a zero Result.
func Plan(p platform.Platform, probed probe.Result, creds Credentials, remuxAvailable bool) ([]Step, error) {
	if p == platform.Instagram {
		return planInstagram(probed, creds, remuxAvailable)
	}

	yt := ytdlpStep(p, remuxAvailable)
	gallery := galleryStep(p, creds)

	switch p.Bias() {
	case platform.VideoBias:
		return []Step{yt, gallery}, nil
	case platform.ImageBias:
		return []Step{gallery, yt}, nil
	default:
		// Mixed-content and unknown platforms lead with the gallery tool;
		// it copes better with multi-image posts.
		return []Step{gallery, yt}, nil
	}
}

func planInstagram(probed probe.Result, creds Credentials, remuxAvailable bool) ([]Step, error) {
	yt := ytdlpStep(platform.Instagram, remuxAvailable)
	gallery := galleryStep(platform.Instagram, creds)

	switch probed.Kind {
	case probe.KindAuthRequired:
		if !creds.HasInstagramCookies() {
			return nil, ErrCredentialsRequired
		}

		return []Step{gallery}, nil
	case probe.KindVideo:
		return []Step{yt, gallery}, nil
	case probe.KindImage:
		return []Step{gallery, yt}, nil
	default:
		return []Step{gallery, yt}, nil
	}
}

// FormatPlan computes the chain for an explicit per-format download
// initiated from a quality selection. The terminal step retries with the
// default selector under a distinct output name.
func FormatPlan(p platform.Platform, formatID string, remuxAvailable bool) []Step {
	var selector string
	switch formatID {
	case "best", "Best":
		if p == platform.Reddit {
			selector = "best[height<=720][acodec!=none]/bestvideo[height<=720]+bestaudio/best"
		} else {
			selector = defaultSelector
		}
	case "140":
		selector = "bestaudio[ext=m4a]/best"
	default:
		selector = fmt.Sprintf("%s[acodec!=none]/%s/best[height<=720][acodec!=none]/best", formatID, formatID)
	}

	return []Step{
		{
			Tool:           YtDlp,
			FormatSelector: selector,
			MergeContainer: "mp4",
			Timeout:        formatTimeout,
		},
		{
			Tool:           YtDlp,
			FormatSelector: defaultSelector,
			Timeout:        fallbackTimeout,
			OutputSuffix:   "_fallback",
		},
	}
}

func ytdlpStep(p platform.Platform, remuxAvailable bool) Step {
	step := Step{
		Tool:           YtDlp,
		FormatSelector: defaultSelector,
		Timeout:        ytdlpBaseTimeout,
	}

	if p.SplitStreamDelivery() {
		step.Timeout = ytdlpExtendedTimeout
		if remuxAvailable {
			step.FormatSelector = splitSelector
		} else {
			step.FormatSelector = splitCombinedSelector
		}
	}

	// Without a remux tool on the host, the extraction tool is told to
	// produce a merged container itself.
	if !remuxAvailable {
		step.MergeContainer = "mp4"
	}

	return step
}

func galleryStep(p platform.Platform, creds Credentials) Step {
	step := Step{
		Tool:    GalleryDl,
		Timeout: galleryBaseTimeout,
	}

	if p == platform.Reddit {
		step.Timeout = galleryLongTimeout
		step.UseRedditConfig = creds.HasRedditAPI()
	}
	if p == platform.Instagram {
		step.UseCookies = creds.HasInstagramCookies()
	}

	return step
}

func (t Tool) String() string {
	switch t {
	case YtDlp:
		return "yt-dlp"
	case GalleryDl:
		return "gallery-dl"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", t)
	}
}
