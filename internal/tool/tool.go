// Subprocess lifecycle management for the external extraction and remux
// tools. Every invocation carries an explicit deadline; a process which
// outlives it is killed and reaped before control returns to the caller, so
// no orphaned subprocess can survive a timeout.
package tool

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/snagbot/snag/pkg/logger"
)

var log = logger.Get("Tool")

// waitDelay bounds the grace period between the deadline elapsing and the
// process being forcibly reaped.
const waitDelay = 5 * time.Second

type (
	// Command describes a single tool invocation.
	Command struct {
		Bin     string
		Args    []string
		Dir     string
		Timeout time.Duration
	}

	// Result captures the observable outcome of a completed (or killed)
	// invocation. A timeout is an ordinary failure, not an error: Run only
	// errors when the process could not be started at all.
	Result struct {
		Stdout   string
		Stderr   string
		ExitZero bool
		TimedOut bool
	}

	// Runner executes tool commands. The interface exists so pipeline
	// components can be tested without spawning real subprocesses.
	Runner interface {
		Run(context.Context, Command) (*Result, error)
		Available(bin string) bool
	}

	execRunner struct{}
)

func NewRunner() Runner {
	return &execRunner{}
}

func (r *execRunner) Run(parent context.Context, command Command) (*Result, error) {
	ctx, cancel := context.WithTimeout(parent, command.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command.Bin, command.Args...)
	cmd.Dir = command.Dir
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Emit(logger.DEBUG, "Running %s with args %v (timeout %s)\n", command.Bin, command.Args, command.Timeout)

	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitZero: err == nil,
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if result.TimedOut {
		log.Emit(logger.WARNING, "%s exceeded its %s deadline and was killed\n", command.Bin, command.Timeout)
		return result, nil
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Process never ran (binary missing, permissions, ...) - this is a
		// structural failure rather than a tool failure.
		return nil, err
	}

	return result, nil
}

// Available reports whether the named binary can be found on the host.
func (r *execRunner) Available(bin string) bool {
	_, err := exec.LookPath(bin)
	return err == nil
}
