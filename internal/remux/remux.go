// Container remuxing. Split-stream downloads arrive as a video-only file
// plus an audio-only sibling; the remuxer repackages each pair into a
// single mp4 by copying the video stream untouched and transcoding the
// audio to AAC.
package remux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/snagbot/snag/internal/tool"
	"github.com/snagbot/snag/pkg/logger"
)

var log = logger.Get("Remux")

const mergeTimeout = 30 * time.Second

type (
	// Remuxer merges one video file and one audio file into an output
	// container. Implementations must be safe to call from concurrent
	// pipeline runs.
	Remuxer interface {
		Available() bool
		Merge(ctx context.Context, videoPath string, audioPath string, outputPath string) error
	}

	ffmpegRemuxer struct {
		runner     tool.Runner
		ffmpegBin  string
		ffprobeBin string
	}
)

func New(runner tool.Runner, ffmpegBin string, ffprobeBin string) Remuxer {
	return &ffmpegRemuxer{runner: runner, ffmpegBin: ffmpegBin, ffprobeBin: ffprobeBin}
}

// Available reports whether the merge tool exists on the host. Strategy
// planning consults this to decide between split and combined stream
// selectors.
func (r *ffmpegRemuxer) Available() bool {
	return r.runner.Available(r.ffmpegBin)
}

// Merge runs the fixed remux recipe: copy the video stream, transcode
// audio to AAC, map exactly the first video stream of input one and the
// first audio stream of input two, enable progressive-playback faststart
// and overwrite the destination. Success requires BOTH a zero exit code
// and the output file existing afterwards.
func (r *ffmpegRemuxer) Merge(ctx context.Context, videoPath string, audioPath string, outputPath string) error {
	result, err := r.runner.Run(ctx, tool.Command{
		Bin: r.ffmpegBin,
		Args: []string{
			"-i", videoPath,
			"-i", audioPath,
			"-c:v", "copy",
			"-c:a", "aac",
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-movflags", "+faststart",
			"-y",
			outputPath,
		},
		Timeout: mergeTimeout,
	})
	if err != nil {
		return err
	}
	if result.TimedOut {
		return errors.New("remux exceeded its deadline")
	}
	if !result.ExitZero {
		return fmt.Errorf("remux tool exited nonzero: %s", result.Stderr)
	}

	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("remux tool exited zero but produced no output at %s", outputPath)
	}

	r.verifyStreams(outputPath)
	return nil
}

// verifyStreams probes the merged container and warns when it doesn't
// carry both a video and an audio stream. Best effort only: a missing
// ffprobe binary or a probe failure never fails the merge.
func (r *ffmpegRemuxer) verifyStreams(outputPath string) {
	if !r.runner.Available(r.ffprobeBin) {
		return
	}

	cfg := ffmpeg.Config{FfmpegBinPath: r.ffmpegBin, FfprobeBinPath: r.ffprobeBin}
	metadata, err := ffmpeg.New(&cfg).Input(outputPath).GetMetadata()
	if err != nil {
		log.Emit(logger.WARNING, "Could not verify merged output %s: %v\n", outputPath, err)
		return
	}

	hasVideo, hasAudio := false, false
	for _, stream := range metadata.GetStreams() {
		switch stream.GetCodecType() {
		case "video":
			hasVideo = true
		case "audio":
			hasAudio = true
		}
	}

	if !hasVideo || !hasAudio {
		log.Emit(logger.WARNING, "Merged output %s is missing a stream (video=%v audio=%v)\n", outputPath, hasVideo, hasAudio)
	}
}
