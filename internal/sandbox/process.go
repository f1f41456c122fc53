package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const waitDelay = 500 * time.Millisecond

// ProcessSandbox runs the interpreter as a local child process in its own
// process group. It provides no filesystem or network isolation beyond what
// the guard enforces statically.
type ProcessSandbox struct {
	Policy Policy
}

// NewProcessSandbox creates a sandbox with the given policy.
func NewProcessSandbox(policy Policy) *ProcessSandbox {
	return &ProcessSandbox{Policy: policy}
}

func (p *ProcessSandbox) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("no interpreter command configured")
	}

	art, err := newArtifact(p.Policy.TempDir, opts.Filename, opts.Source)
	if err != nil {
		return nil, err
	}
	defer art.Release()

	runCtx := ctx
	cancel := func() {}
	if timeout := p.Policy.timeout(opts.Timeout); timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	args := append(append([]string(nil), opts.Command[1:]...), art.Path)
	cmd := exec.CommandContext(runCtx, opts.Command[0], args...)
	cmd.Dir = art.Dir
	cmd.Env = childEnv(art.Dir)
	cmd.Stdin = strings.NewReader(opts.Stdin)
	cmd.WaitDelay = waitDelay

	stdout := newCappedBuffer(p.Policy.MaxOutputBytes)
	stderr := newCappedBuffer(p.Policy.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting interpreter: %w", err)
	}
	err = cmd.Wait()
	killProcessGroup(cmd)

	result := &ExecResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdout.truncated || stderr.truncated,
	}

	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	// The leader exited cleanly but a descendant kept the output pipes open.
	// The group is already killed; keep what was captured.
	if errors.Is(err, exec.ErrWaitDelay) {
		result.ExitCode = cmd.ProcessState.ExitCode()
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return nil, fmt.Errorf("running interpreter: %w", err)
}

func (p *ProcessSandbox) Close() error { return nil }

// childEnv is a minimal environment; host secrets are not inherited.
func childEnv(home string) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	return []string{
		"PATH=" + path,
		"HOME=" + home,
		"LANG=C.UTF-8",
		"PYTHONIOENCODING=utf-8",
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
	}
}
