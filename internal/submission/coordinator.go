// Package submission is the entry point for the two user actions: running a
// snippet freely and submitting a solution to an exercise.
package submission

import (
	"context"
	"strings"
	"time"

	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/executor"
	"github.com/michaelbrown/labrunner/internal/exercise"
)

// Runner executes one snippet.
type Runner interface {
	Run(ctx context.Context, code execution.SubmittedCode, opts executor.RunOptions) execution.Outcome
}

// Grader runs source against test cases.
type Grader interface {
	GradeStream(ctx context.Context, language execution.Language, source string, cases []execution.TestCase, onResult func(execution.TestCaseResult)) execution.GradingResult
}

// Coordinator validates requests and hands them to the executor or grader.
// It holds no per-request state.
type Coordinator struct {
	runner   Runner
	grader   Grader
	deadline time.Duration
}

// New creates a coordinator. runDeadline bounds free runs; zero means the
// runner's default.
func New(r Runner, g Grader, runDeadline time.Duration) *Coordinator {
	return &Coordinator{runner: r, grader: g, deadline: runDeadline}
}

// RunFree executes a snippet without stdin. Empty source is rejected with
// execution.ErrValidation before anything runs.
func (c *Coordinator) RunFree(ctx context.Context, code execution.SubmittedCode) (execution.Outcome, error) {
	if strings.TrimSpace(code.Source) == "" {
		return execution.Outcome{}, execution.Validationf("No code provided")
	}
	return c.runner.Run(ctx, code, executor.RunOptions{Deadline: c.deadline}), nil
}

// Submit grades source against the exercise's test cases.
func (c *Coordinator) Submit(ctx context.Context, ex *exercise.Exercise, source string) (execution.GradingResult, error) {
	return c.SubmitStream(ctx, ex, source, nil)
}

// SubmitStream is Submit with a per-case callback.
func (c *Coordinator) SubmitStream(ctx context.Context, ex *exercise.Exercise, source string, onResult func(execution.TestCaseResult)) (execution.GradingResult, error) {
	if ex == nil {
		return execution.GradingResult{}, execution.Validationf("no exercise given")
	}
	if strings.TrimSpace(source) == "" {
		return execution.GradingResult{}, execution.Validationf("No code provided")
	}
	language := ex.Language
	if language == "" {
		language = execution.LanguagePython
	}
	return c.grader.GradeStream(ctx, language, source, ex.TestCases, onResult), nil
}
