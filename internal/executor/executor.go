// Package executor runs one snippet of submitted code in isolation and
// classifies what happened.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/guard"
	"github.com/michaelbrown/labrunner/internal/metrics"
	"github.com/michaelbrown/labrunner/internal/sandbox"
)

// Input modes.
const (
	// InputStdin pipes the input to the interpreter's standard input.
	InputStdin = "stdin"
	// InputSubstitute replaces every literal input() call with the quoted
	// input. Programs that read more than once see the same value each time.
	InputSubstitute = "substitute"
)

// DefaultDeadline applies when neither the request nor Config sets one.
const DefaultDeadline = 5 * time.Second

// Config holds executor settings.
type Config struct {
	Interpreter   []string      // argv used to start python; the artifact path is appended
	Image         string        // container image for the docker backend
	Deadline      time.Duration // default wall-clock limit
	InputMode     string
	MaxConcurrent int // concurrent interpreter processes; <= 0 = unlimited
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Interpreter:   []string{"python3"},
		Image:         "python:3.12-alpine",
		Deadline:      DefaultDeadline,
		InputMode:     InputStdin,
		MaxConcurrent: 8,
	}
}

// RunOptions are per-call settings.
type RunOptions struct {
	Stdin    *string
	Deadline time.Duration // zero = Config.Deadline
}

// Executor screens, launches and classifies single runs. It is safe for
// concurrent use; each run gets its own artifact and process.
type Executor struct {
	guard   guard.Guard
	sandbox sandbox.Sandbox
	cfg     Config
	sem     *semaphore.Weighted
	log     zerolog.Logger
}

// New creates an executor. The guard and sandbox are required.
func New(g guard.Guard, sb sandbox.Sandbox, cfg Config, logger zerolog.Logger) *Executor {
	def := DefaultConfig()
	if len(cfg.Interpreter) == 0 {
		cfg.Interpreter = def.Interpreter
	}
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = def.Deadline
	}
	if cfg.InputMode == "" {
		cfg.InputMode = def.InputMode
	}

	e := &Executor{
		guard:   g,
		sandbox: sb,
		cfg:     cfg,
		log:     logger.With().Str("component", "executor").Logger(),
	}
	if cfg.MaxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return e
}

// Deadline is the default wall-clock limit of a run.
func (e *Executor) Deadline() time.Duration { return e.cfg.Deadline }

// Run executes code and reports the outcome. It never returns an error:
// every failure is classified into the outcome.
func (e *Executor) Run(ctx context.Context, code execution.SubmittedCode, opts RunOptions) execution.Outcome {
	language := code.Language
	if language == "" {
		language = execution.LanguagePython
	}

	if err := e.guard.Screen(code.Source); err != nil {
		pattern := err.Error()
		var pv *execution.PolicyViolation
		if errors.As(err, &pv) {
			pattern = pv.Pattern
		}
		metrics.PolicyViolations.Inc()
		e.record(language, execution.StatusFailed, 0)
		e.log.Info().Str("pattern", pattern).Msg("source rejected by guard")
		return execution.PolicyFailure(pattern)
	}

	if language != execution.LanguagePython {
		e.record(language, execution.StatusFailed, 0)
		return execution.Failure(execution.FailureUnsupportedLanguage, "unsupported language")
	}

	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = e.cfg.Deadline
	}

	source := code.Source
	stdin := ""
	if opts.Stdin != nil {
		if e.cfg.InputMode == InputSubstitute {
			source = SubstituteInput(source, *opts.Stdin)
		} else {
			stdin = *opts.Stdin
		}
	}

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			out := execution.Failure(execution.FailureCancelled, "execution cancelled")
			out.Deadline = deadline
			return out
		}
		defer e.sem.Release(1)
	}

	metrics.ActiveExecutions.Inc()
	res, err := e.sandbox.Exec(ctx, sandbox.ExecOpts{
		Image:    e.cfg.Image,
		Command:  e.cfg.Interpreter,
		Source:   source,
		Filename: "main.py",
		Stdin:    stdin,
		Timeout:  deadline,
	})
	metrics.ActiveExecutions.Dec()

	var out execution.Outcome
	switch {
	case err != nil && ctx.Err() != nil:
		out = execution.Failure(execution.FailureCancelled, "execution cancelled")
	case err != nil:
		e.log.Error().Err(err).Msg("process launch failed")
		out = execution.Failure(execution.FailureLaunch, err.Error())
	default:
		out = execution.Outcome{
			Stdout:    res.Stdout,
			Stderr:    res.Stderr,
			ExitCode:  res.ExitCode,
			Duration:  res.Duration,
			TimedOut:  res.TimedOut,
			Truncated: res.Truncated,
		}
	}
	out.Deadline = deadline

	e.record(language, out.Status(), out.Duration)
	e.log.Debug().
		Str("status", string(out.Status())).
		Int("exit_code", out.ExitCode).
		Dur("duration", out.Duration).
		Msg("execution finished")
	return out
}

func (e *Executor) record(language execution.Language, status execution.Status, d time.Duration) {
	metrics.ExecutionsTotal.WithLabelValues(string(language), string(status)).Inc()
	if d > 0 {
		metrics.ExecutionDuration.WithLabelValues(string(language)).Observe(d.Seconds())
	}
}

// SubstituteInput replaces every literal "input()" in source with a Python
// string literal holding input. Calls with a prompt argument are left alone.
// Bytes that are not valid UTF-8 become lone surrogates (\udc80-\udcff), the
// same str Python builds when it decodes such bytes from a pipe.
func SubstituteInput(source, input string) string {
	return strings.ReplaceAll(source, "input()", pythonQuote(input))
}

// pythonQuote renders s as a double-quoted Python 3 str literal.
func pythonQuote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(&b, `\u%04x`, 0xdc00+int(s[i]))
			i++
			continue
		}
		i += size
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			switch {
			case r < 0x80 && !unicode.IsPrint(r):
				fmt.Fprintf(&b, `\x%02x`, r)
			case unicode.IsPrint(r):
				b.WriteRune(r)
			case r <= 0xffff:
				fmt.Fprintf(&b, `\u%04x`, r)
			default:
				fmt.Fprintf(&b, `\U%08x`, r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
