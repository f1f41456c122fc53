package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/executor"
	"github.com/michaelbrown/labrunner/internal/exercise"
)

type stubRunner struct {
	calls []executor.RunOptions
	out   execution.Outcome
}

func (s *stubRunner) Run(ctx context.Context, code execution.SubmittedCode, opts executor.RunOptions) execution.Outcome {
	s.calls = append(s.calls, opts)
	return s.out
}

type stubGrader struct {
	calls    int
	language execution.Language
	cases    []execution.TestCase
}

func (s *stubGrader) GradeStream(ctx context.Context, language execution.Language, source string, cases []execution.TestCase, onResult func(execution.TestCaseResult)) execution.GradingResult {
	s.calls++
	s.language = language
	s.cases = cases
	results := make([]execution.TestCaseResult, len(cases))
	for i := range cases {
		results[i] = execution.TestCaseResult{Index: i + 1, Passed: true}
		if onResult != nil {
			onResult(results[i])
		}
	}
	return execution.NewGradingResult(results)
}

func TestRunFreeRejectsEmpty(t *testing.T) {
	r := &stubRunner{}
	c := New(r, &stubGrader{}, 0)

	for _, src := range []string{"", "   \n\t"} {
		_, err := c.RunFree(context.Background(), execution.SubmittedCode{Source: src})
		if !errors.Is(err, execution.ErrValidation) {
			t.Errorf("RunFree(%q) err = %v, want ErrValidation", src, err)
		}
	}
	if len(r.calls) != 0 {
		t.Errorf("runner called %d times", len(r.calls))
	}
}

func TestRunFreeNoStdin(t *testing.T) {
	r := &stubRunner{out: execution.Outcome{Stdout: "hi\n"}}
	c := New(r, &stubGrader{}, 3*time.Second)

	out, err := c.RunFree(context.Background(), execution.SubmittedCode{Source: "print('hi')"})
	if err != nil {
		t.Fatalf("RunFree: %v", err)
	}
	if out.Stdout != "hi\n" {
		t.Errorf("stdout = %q", out.Stdout)
	}
	if r.calls[0].Stdin != nil {
		t.Error("free runs must not receive stdin")
	}
	if r.calls[0].Deadline != 3*time.Second {
		t.Errorf("deadline = %v", r.calls[0].Deadline)
	}
}

func TestRunFreeReturnsFailureOutcome(t *testing.T) {
	r := &stubRunner{out: execution.PolicyFailure("import os")}
	c := New(r, &stubGrader{}, 0)

	out, err := c.RunFree(context.Background(), execution.SubmittedCode{Source: "import os"})
	if err != nil {
		t.Fatalf("RunFree: %v", err)
	}
	if out.FailureKind != execution.FailurePolicyViolation {
		t.Errorf("kind = %q", out.FailureKind)
	}
}

func TestSubmit(t *testing.T) {
	g := &stubGrader{}
	c := New(&stubRunner{}, g, 0)
	ex := &exercise.Exercise{
		ID:        "sum",
		TestCases: []execution.TestCase{{Input: "1\n2", ExpectedOutput: "3"}, {Input: "2\n2", ExpectedOutput: "4"}},
	}

	var streamed int
	res, err := c.SubmitStream(context.Background(), ex, "print(3)", func(execution.TestCaseResult) { streamed++ })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.TotalCount != 2 || !res.AllPassed {
		t.Errorf("result = %+v", res)
	}
	if g.language != execution.LanguagePython {
		t.Errorf("language = %q", g.language)
	}
	if streamed != 2 {
		t.Errorf("streamed = %d", streamed)
	}
}

func TestSubmitRejectsEmpty(t *testing.T) {
	g := &stubGrader{}
	c := New(&stubRunner{}, g, 0)

	if _, err := c.Submit(context.Background(), &exercise.Exercise{ID: "x"}, ""); !errors.Is(err, execution.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if _, err := c.Submit(context.Background(), nil, "print(1)"); !errors.Is(err, execution.ErrValidation) {
		t.Errorf("nil exercise err = %v, want ErrValidation", err)
	}
	if g.calls != 0 {
		t.Errorf("grader called %d times", g.calls)
	}
}
