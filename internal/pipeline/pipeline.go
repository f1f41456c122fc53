// Package pipeline assembles the guard, sandbox, executor, grader and
// coordinator from configuration.
package pipeline

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/michaelbrown/labrunner/internal/config"
	"github.com/michaelbrown/labrunner/internal/executor"
	"github.com/michaelbrown/labrunner/internal/grader"
	"github.com/michaelbrown/labrunner/internal/guard"
	"github.com/michaelbrown/labrunner/internal/sandbox"
	"github.com/michaelbrown/labrunner/internal/submission"
)

// Pipeline is the execution stack shared by the server and the CLI tools.
type Pipeline struct {
	Sandbox     sandbox.Sandbox
	Executor    *executor.Executor
	Grader      *grader.Grader
	Coordinator *submission.Coordinator
}

// Close releases the sandbox backend.
func (p *Pipeline) Close() error { return p.Sandbox.Close() }

// Policy maps sandbox settings onto a sandbox.Policy.
func Policy(cfg config.SandboxConfig) sandbox.Policy {
	return sandbox.Policy{
		MaxMemory:      cfg.MaxMemory,
		MaxTimeout:     cfg.Deadline,
		Network:        cfg.Network,
		Images:         cfg.Images,
		MaxOutputBytes: cfg.MaxOutputBytes,
		TempDir:        cfg.TempDir,
	}
}

// New builds a pipeline on the configured sandbox backend.
func New(cfg *config.Config, log zerolog.Logger) (*Pipeline, error) {
	var sb sandbox.Sandbox
	switch cfg.Sandbox.Backend {
	case "docker":
		d, err := sandbox.NewDockerSandbox(Policy(cfg.Sandbox))
		if err != nil {
			return nil, fmt.Errorf("connecting to docker: %w", err)
		}
		sb = d
	default:
		sb = sandbox.NewProcessSandbox(Policy(cfg.Sandbox))
	}

	p, err := WithSandbox(cfg, sb, log)
	if err != nil {
		sb.Close()
		return nil, err
	}
	return p, nil
}

// WithSandbox builds a pipeline on sb.
func WithSandbox(cfg *config.Config, sb sandbox.Sandbox, log zerolog.Logger) (*Pipeline, error) {
	g, err := guard.New(guard.Config{
		Strategy: cfg.Guard.Strategy,
		Patterns: cfg.Guard.Patterns,
		Modules:  cfg.Guard.Modules,
		Builtins: cfg.Guard.Builtins,
	})
	if err != nil {
		return nil, err
	}

	ex := executor.New(g, sb, executor.Config{
		Interpreter:   cfg.Sandbox.Interpreter,
		Image:         cfg.Sandbox.Image,
		Deadline:      cfg.Sandbox.Deadline,
		InputMode:     cfg.Sandbox.InputMode,
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
	}, log)
	gr := grader.New(ex, grader.Config{
		Deadline:    cfg.Grading.Deadline,
		Parallelism: cfg.Grading.Parallelism,
	}, log)

	log.Debug().
		Str("backend", cfg.Sandbox.Backend).
		Str("guard", cfg.Guard.Strategy).
		Str("input_mode", cfg.Sandbox.InputMode).
		Msg("execution pipeline ready")

	return &Pipeline{
		Sandbox:     sb,
		Executor:    ex,
		Grader:      gr,
		Coordinator: submission.New(ex, gr, cfg.Sandbox.Deadline),
	}, nil
}
