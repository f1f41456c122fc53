package execution

import (
	"errors"
	"testing"
	"time"
)

func TestOutcomeStatusIsExclusive(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    Status
	}{
		{"completed", Outcome{Stdout: "hi\n"}, StatusCompleted},
		{"non-zero exit still completed", Outcome{Stderr: "boom", ExitCode: 1}, StatusCompleted},
		{"timed out", Outcome{TimedOut: true, Deadline: 5 * time.Second}, StatusTimedOut},
		{"policy", PolicyFailure("import os"), StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.Status(); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutcomeErrTaxonomy(t *testing.T) {
	var pv *PolicyViolation
	if err := PolicyFailure("open(").Err(); !errors.As(err, &pv) || pv.Pattern != "open(" {
		t.Errorf("policy outcome err = %v, want PolicyViolation for open(", err)
	}

	if err := Failure(FailureUnsupportedLanguage, "unsupported language").Err(); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Errorf("unsupported outcome err = %v", err)
	}

	if err := (Outcome{TimedOut: true, Deadline: 5 * time.Second}).Err(); !errors.Is(err, ErrTimedOut) {
		t.Errorf("timeout outcome err = %v", err)
	}

	var le *LaunchError
	if err := Failure(FailureLaunch, "python3 not found").Err(); !errors.As(err, &le) {
		t.Errorf("launch outcome err = %v, want LaunchError", err)
	}

	if err := (Outcome{ExitCode: 2}).Err(); err != nil {
		t.Errorf("completed outcome err = %v, want nil", err)
	}
}

func TestOutcomeOutput(t *testing.T) {
	o := Outcome{Stdout: "1\n", Stderr: "Traceback"}
	if got, want := o.Output(), "1\n\nError:\nTraceback"; got != want {
		t.Errorf("Output() = %q, want %q", got, want)
	}

	timedOut := Outcome{TimedOut: true, Deadline: 5 * time.Second}
	if got, want := timedOut.Output(), "Error: Execution timed out (limit: 5s)."; got != want {
		t.Errorf("Output() = %q, want %q", got, want)
	}

	if got, want := PolicyFailure("import os").Output(), "Error: security violation: import os"; got != want {
		t.Errorf("Output() = %q, want %q", got, want)
	}
}

func TestNewGradingResultCounts(t *testing.T) {
	g := NewGradingResult([]TestCaseResult{
		{Index: 1, Passed: true},
		{Index: 2, Passed: false},
		{Index: 3, Passed: true},
	})
	if g.PassedCount != 2 || g.TotalCount != 3 || g.AllPassed {
		t.Errorf("got %+v, want 2/3 not all passed", g)
	}

	first, ok := g.FirstFailure()
	if !ok || first.Index != 2 {
		t.Errorf("FirstFailure() = %+v, %v", first, ok)
	}

	empty := NewGradingResult(nil)
	if !empty.AllPassed || empty.PassedCount != 0 || empty.TotalCount != 0 || empty.Results == nil {
		t.Errorf("empty grading = %+v, want trivially passed with empty results", empty)
	}
}
