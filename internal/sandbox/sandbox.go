// Package sandbox runs a single source artifact in an isolated interpreter
// process and reports what it printed.
package sandbox

import (
	"context"
	"time"
)

// ExecOpts describes a code execution request.
type ExecOpts struct {
	Image    string   // Docker image; ignored by the process backend
	Command  []string // interpreter argv; the artifact path is appended
	Source   string   // source code written to the artifact
	Filename string   // artifact extension hint, e.g. "main.py"
	Stdin    string
	Timeout  time.Duration // zero = Policy.MaxTimeout
}

// ExecResult is the output of a sandboxed execution.
type ExecResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	TimedOut  bool
	Truncated bool
}

// Sandbox runs code in an isolated environment.
//
// Exec returns an error only when the run could not take place (artifact or
// launch failure, caller cancellation). Timeouts and non-zero exits are
// reported in ExecResult.
type Sandbox interface {
	Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error)
	Close() error
}
