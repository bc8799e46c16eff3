// Download execution. Translates strategy steps into concrete tool command
// lines, runs them inside the request workspace, and hands successful runs
// to the reconciler. Failures (including timeouts) yield no bundle so the
// caller can advance through its fallback chain.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/snagbot/snag/internal/reconcile"
	"github.com/snagbot/snag/internal/strategy"
	"github.com/snagbot/snag/internal/tool"
	"github.com/snagbot/snag/internal/workspace"
	"github.com/snagbot/snag/pkg/logger"
)

var log = logger.Get("Executor")

// maxFilesize is passed to the video tool so it refuses anything the
// transport could never deliver anyway.
const maxFilesize = "45M"

const redditConfigName = "gallery-dl-config.json"

type Executor struct {
	runner     tool.Runner
	reconciler *reconcile.Reconciler
	ytdlpBin   string
	galleryBin string
	creds      strategy.Credentials
}

func New(runner tool.Runner, reconciler *reconcile.Reconciler, ytdlpBin string, galleryBin string, creds strategy.Credentials) *Executor {
	return &Executor{
		runner:     runner,
		reconciler: reconciler,
		ytdlpBin:   ytdlpBin,
		galleryBin: galleryBin,
		creds:      creds,
	}
}

// Execute runs a single strategy step to completion (or deadline) and
// reconciles the workspace on success. A nil bundle with nil error means
// the step failed in an ordinary, fallback-able way.
func (e *Executor) Execute(ctx context.Context, url string, ws *workspace.Workspace, step strategy.Step) (*reconcile.Bundle, error) {
	bin, args, err := e.buildCommand(url, ws, step)
	if err != nil {
		return nil, err
	}

	result, err := e.runner.Run(ctx, tool.Command{
		Bin:     bin,
		Args:    args,
		Dir:     ws.Dir,
		Timeout: step.Timeout,
	})
	if err != nil {
		return nil, err
	}

	if result.TimedOut {
		log.Emit(logger.WARNING, "%s timed out after %s for URL %s\n", step.Tool, step.Timeout, url)
		return nil, nil
	}
	if !result.ExitZero {
		e.logDiagnostics(step, result.Stderr)
		return nil, nil
	}

	return e.reconciler.Collect(ctx, ws.Dir, step.Tool.String())
}

func (e *Executor) buildCommand(url string, ws *workspace.Workspace, step strategy.Step) (string, []string, error) {
	switch step.Tool {
	case strategy.YtDlp:
		outputTemplate := filepath.Join(ws.Dir, "%(title)s"+step.OutputSuffix+".%(ext)s")
		args := []string{
			"--write-info-json",
			"--format", step.FormatSelector,
			"--max-filesize", maxFilesize,
			"--output", outputTemplate,
			"--no-warnings",
		}
		if step.MergeContainer != "" {
			args = append(args, "--merge-output-format", step.MergeContainer)
		}

		return e.ytdlpBin, append(args, url), nil
	case strategy.GalleryDl:
		args := []string{
			"--write-info-json",
			"--directory", ws.Dir,
		}
		if step.UseCookies {
			args = append(args, "--cookies", e.creds.InstagramCookieFile)
		}
		if step.UseRedditConfig {
			configPath, err := e.writeRedditConfig(ws)
			if err != nil {
				return "", nil, err
			}

			args = append(args, "--config", configPath)
		}

		return e.galleryBin, append(args, url), nil
	default:
		return "", nil, fmt.Errorf("unrecognized tool %v in strategy step", step.Tool)
	}
}

// writeRedditConfig materializes the gallery tool's API-credential config
// inside the workspace. The file lives and dies with the workspace so
// credentials never persist outside the request.
func (e *Executor) writeRedditConfig(ws *workspace.Workspace) (string, error) {
	config := map[string]any{
		"extractor": map[string]any{
			"reddit": map[string]string{
				"client-id":     e.creds.RedditClientID,
				"client-secret": e.creds.RedditClientSecret,
				"user-agent":    e.creds.RedditUserAgent,
			},
		},
	}

	content, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return "", err
	}

	configPath := filepath.Join(ws.Dir, redditConfigName)
	if err := os.WriteFile(configPath, content, 0o600); err != nil {
		return "", fmt.Errorf("could not write tool config to workspace: %w", err)
	}

	return configPath, nil
}

// logDiagnostics pattern-matches known transient conditions in the tools
// stderr. Purely for telemetry - the fallback chain advances regardless.
func (e *Executor) logDiagnostics(step strategy.Step, stderr string) {
	lowered := strings.ToLower(stderr)
	switch {
	case strings.Contains(lowered, "rate limit"):
		log.Emit(logger.WARNING, "%s hit a rate limit - configuring API credentials may help\n", step.Tool)
	case strings.Contains(lowered, "login page"):
		log.Emit(logger.WARNING, "%s was served a login page - the platform wants authentication\n", step.Tool)
	}

	log.Emit(logger.ERROR, "%s failed: %s\n", step.Tool, stderr)
}
