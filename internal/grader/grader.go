// Package grader runs a submission against an exercise's test cases.
package grader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/executor"
	"github.com/michaelbrown/labrunner/internal/metrics"
)

// Runner executes one snippet. *executor.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, code execution.SubmittedCode, opts executor.RunOptions) execution.Outcome
}

// Config holds grading settings.
type Config struct {
	Deadline    time.Duration // per test case; zero = the runner's default
	Parallelism int           // cases run at once; <= 1 = sequential
}

// Grader compares program output against expected output, case by case.
type Grader struct {
	runner Runner
	cfg    Config
	log    zerolog.Logger
}

func New(r Runner, cfg Config, logger zerolog.Logger) *Grader {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Grader{
		runner: r,
		cfg:    cfg,
		log:    logger.With().Str("component", "grader").Logger(),
	}
}

// Grade runs every case and aggregates the results.
func (g *Grader) Grade(ctx context.Context, language execution.Language, source string, cases []execution.TestCase) execution.GradingResult {
	return g.GradeStream(ctx, language, source, cases, nil)
}

// GradeStream is Grade with a callback invoked once per finished case.
// Callbacks are serialized but arrive in completion order when cases run
// in parallel; the returned results are always in case order.
func (g *Grader) GradeStream(ctx context.Context, language execution.Language, source string, cases []execution.TestCase, onResult func(execution.TestCaseResult)) execution.GradingResult {
	results := make([]execution.TestCaseResult, len(cases))
	code := execution.SubmittedCode{Source: source, Language: language}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(g.cfg.Parallelism)

	for i, tc := range cases {
		eg.Go(func() error {
			r := g.runCase(ctx, code, i+1, tc)
			results[i] = r
			if onResult != nil {
				mu.Lock()
				onResult(r)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	res := execution.NewGradingResult(results)
	label := "failed"
	if res.AllPassed {
		label = "passed"
	}
	metrics.GradingsTotal.WithLabelValues(label).Inc()
	g.log.Info().
		Int("passed", res.PassedCount).
		Int("total", res.TotalCount).
		Msg("submission graded")
	return res
}

func (g *Grader) runCase(ctx context.Context, code execution.SubmittedCode, index int, tc execution.TestCase) execution.TestCaseResult {
	input := tc.Input
	out := g.runner.Run(ctx, code, executor.RunOptions{Stdin: &input, Deadline: g.cfg.Deadline})

	r := execution.TestCaseResult{
		Index:          index,
		Input:          tc.Input,
		ExpectedOutput: tc.ExpectedOutput,
		Stderr:         out.Stderr,
		ExitCode:       out.ExitCode,
		Duration:       out.Duration,
		Truncated:      out.Truncated,
	}

	switch {
	case out.Failed():
		r.Error = out.Description()
	case out.ExitCode != 0:
		r.Error = runtimeError(out)
	default:
		actual := out.Stdout
		r.ActualOutput = &actual
		r.Passed = Matches(actual, tc.ExpectedOutput)
	}
	return r
}

// Matches reports whether actual equals expected once surrounding whitespace
// is trimmed from both.
func Matches(actual, expected string) bool {
	return strings.TrimSpace(actual) == strings.TrimSpace(expected)
}

func runtimeError(out execution.Outcome) string {
	msg := fmt.Sprintf("runtime error (exit code %d)", out.ExitCode)
	if line := lastLine(out.Stderr); line != "" {
		msg += ": " + line
	}
	return msg
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
