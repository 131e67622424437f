package clapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Runner executes an argument list and reports how the process ended.
// args[0] is the executable. A non-zero exit is not an error for a Runner;
// it is reported through Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, args []string) (Result, error)
}

// RunnerFunc adapts a plain function to the Runner interface
type RunnerFunc func(ctx context.Context, args []string) (Result, error)

// Run calls f(ctx, args)
func (f RunnerFunc) Run(ctx context.Context, args []string) (Result, error) {
	return f(ctx, args)
}

const waitDelay = 2 * time.Second

// ExecRunner runs CLAPI as a local subprocess
type ExecRunner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecRunner creates a local runner. A zero timeout waits for the
// process indefinitely.
func NewExecRunner(timeout time.Duration, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		timeout: timeout,
		logger:  logger.With("component", "clapi_exec"),
	}
}

// Run starts the process, waits for it and captures stdout/stderr
func (r *ExecRunner) Run(ctx context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return Result{}, errors.New("empty argument list")
	}

	execCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, args[0], args[1:]...)
	// Children of a killed CLAPI may hold the pipes open.
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// A process killed through the context is not a CLAPI exit
	if err != nil && execCtx.Err() != nil {
		return Result{}, interrupted(ctx, r.timeout)
	}

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		r.logger.Warn("CLAPI execution failed",
			"executable", args[0],
			"error", err,
			"stderr", res.Stderr,
		)
		return res, fmt.Errorf("clapi execution failed: %w", err)
	}

	return res, nil
}

// interrupted reports why an invocation was killed: ErrTimeout when the
// runner's own timeout fired, the caller's context error otherwise.
func interrupted(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("clapi invocation aborted: %w", err)
	}
	return fmt.Errorf("%w after %v", ErrTimeout, timeout)
}
