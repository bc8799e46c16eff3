// Quality ladder enumeration for platforms that expose multiple encodings
// of the same content (YouTube). The tabular output of yt-dlp's format
// listing is reduced to a small, deduplicated, strictly ordered set of
// options suitable for presenting to a user.
package formats

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/snagbot/snag/internal/tool"
	"github.com/snagbot/snag/pkg/logger"
)

var log = logger.Get("Formats")

const (
	enumerateTimeout = 15 * time.Second

	// AudioOnlyLabel is the synthetic ladder rung appended to every result.
	AudioOnlyLabel = "Audio Only"

	// audioOnlyFormatID is a known-good m4a audio stream identifier.
	audioOnlyFormatID = "140"

	// maxOptions caps the size of the returned ladder.
	maxOptions = 6
)

type (
	// Option is one selectable entry of the quality ladder. ID is the
	// opaque format identifier understood by the extraction tool; Label is
	// a canonical quality string from the fixed ladder.
	Option struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}

	Enumerator struct {
		runner   tool.Runner
		ytdlpBin string
	}

	candidate struct {
		id        string
		videoOnly bool
	}
)

// resolutionTokens maps output fragments to canonical labels; checked in
// order so that e.g. "2160" wins before "1440" could misfire on a shared
// digit sequence.
var resolutionTokens = []struct {
	fragment string
	label    string
}{
	{"2160", "2160p"},
	{"4K", "2160p"},
	{"1440", "1440p"},
	{"1080", "1080p"},
	{"720", "720p"},
	{"480", "480p"},
	{"360", "360p"},
	{"240", "240p"},
	{"144", "144p"},
}

// qualityRank is the fixed ordering used for the final ladder; higher
// ranks sort first and Audio Only always lands last.
var qualityRank = map[string]int{
	"2160p":       7,
	"1440p":       6,
	"1080p":       5,
	"720p":        4,
	"480p":        3,
	"360p":        2,
	"240p":        1,
	AudioOnlyLabel: 0,
}

// excludedFormatIDs are identifiers known to be low-value audio-only
// streams which yt-dlp lists alongside real video encodings.
var excludedFormatIDs = map[string]bool{
	"140": true, "251": true, "249": true, "250": true, "17": true, "36": true,
}

func New(runner tool.Runner, ytdlpBin string) *Enumerator {
	return &Enumerator{runner: runner, ytdlpBin: ytdlpBin}
}

// Enumerate lists the available encodings for a URL and normalizes them
// into a quality ladder of at most six options. A nil slice is returned
// when the listing fails or times out; callers must treat that as "fall
// back to the default strategy", not as an error.
func (e *Enumerator) Enumerate(ctx context.Context, url string) []Option {
	result, err := e.runner.Run(ctx, tool.Command{
		Bin:     e.ytdlpBin,
		Args:    []string{"--list-formats", "--no-warnings", url},
		Timeout: enumerateTimeout,
	})
	if err != nil || result.TimedOut || !result.ExitZero {
		log.Emit(logger.WARNING, "Format listing for %s failed, caller should use default strategy\n", url)
		return nil
	}

	return Parse(result.Stdout)
}

// Parse normalizes the line-oriented format table into the quality ladder.
// Split out from Enumerate so the parsing contract can be tested without a
// subprocess.
func Parse(listing string) []Option {
	candidates := map[string]candidate{}

	for _, line := range strings.Split(listing, "\n") {
		if strings.HasPrefix(line, "format code") || strings.HasPrefix(line, "----") || strings.TrimSpace(line) == "" {
			continue
		}

		if !strings.Contains(line, "mp4") && !strings.Contains(line, "webm") {
			continue
		}
		if strings.Contains(line, "audio only") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		formatID := fields[0]

		label := ""
		for _, token := range resolutionTokens {
			if strings.Contains(line, token.fragment) {
				label = token.label
				break
			}
		}
		if label == "" || label == "144p" || excludedFormatIDs[formatID] {
			continue
		}

		// At most one entry survives per label. A combined (video+audio)
		// entry always replaces a video-only one for the same rung; the
		// video-only entry is still listed when it is the only option.
		videoOnly := strings.Contains(line, "video only")
		existing, seen := candidates[label]
		if !seen || (existing.videoOnly && !videoOnly) {
			candidates[label] = candidate{id: formatID, videoOnly: videoOnly}
		}
	}

	options := make([]Option, 0, len(candidates)+1)
	for label, cand := range candidates {
		options = append(options, Option{ID: cand.id, Label: label})
	}
	options = append(options, Option{ID: audioOnlyFormatID, Label: AudioOnlyLabel})

	sort.Slice(options, func(i, j int) bool {
		return qualityRank[options[i].Label] > qualityRank[options[j].Label]
	})

	// Truncation drops the lowest video rungs; the Audio Only entry is
	// always retained in last position.
	if len(options) > maxOptions {
		options = append(options[:maxOptions-1], Option{ID: audioOnlyFormatID, Label: AudioOnlyLabel})
	}

	return options
}
