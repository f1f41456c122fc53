package execution

import (
	"fmt"
	"strings"
	"time"
)

// FailureKind classifies why an execution did not complete normally.
type FailureKind string

const (
	FailurePolicyViolation     FailureKind = "policy_violation"
	FailureUnsupportedLanguage FailureKind = "unsupported_language"
	FailureLaunch              FailureKind = "launch_failure"
	FailureCancelled           FailureKind = "cancelled"
)

// Status is the terminal state of one isolated run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed_out"
	StatusFailed    Status = "failed"
)

// Outcome is the result of one isolated run.
//
// Exactly one of normal completion, TimedOut and FailureReason applies.
type Outcome struct {
	Stdout        string        `json:"stdout"`
	Stderr        string        `json:"stderr"`
	ExitCode      int           `json:"exit_code"`
	Duration      time.Duration `json:"duration"`
	TimedOut      bool          `json:"timed_out"`
	// Truncated is set when stdout or stderr hit the output cap.
	Truncated     bool          `json:"truncated,omitempty"`
	Deadline      time.Duration `json:"deadline,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	FailureKind   FailureKind   `json:"failure_kind,omitempty"`
	// Pattern is the offending policy entry when FailureKind is policy_violation.
	Pattern string `json:"pattern,omitempty"`
}

// Status reports which terminal state the outcome is in.
func (o Outcome) Status() Status {
	switch {
	case o.FailureReason != "":
		return StatusFailed
	case o.TimedOut:
		return StatusTimedOut
	default:
		return StatusCompleted
	}
}

// Failed reports whether the run produced no usable output.
func (o Outcome) Failed() bool {
	return o.Status() != StatusCompleted
}

// Err maps the outcome onto the error taxonomy. It returns nil for normal
// completion, regardless of exit code.
func (o Outcome) Err() error {
	switch o.Status() {
	case StatusTimedOut:
		return fmt.Errorf("%w (limit: %s)", ErrTimedOut, formatDeadline(o.Deadline))
	case StatusFailed:
		switch o.FailureKind {
		case FailurePolicyViolation:
			return &PolicyViolation{Pattern: o.Pattern}
		case FailureUnsupportedLanguage:
			return ErrUnsupportedLanguage
		case FailureCancelled:
			return ErrCancelled
		default:
			return &LaunchError{Reason: o.FailureReason}
		}
	}
	return nil
}

// Description is the human readable failure text attached to graded cases.
func (o Outcome) Description() string {
	switch o.Status() {
	case StatusTimedOut:
		return fmt.Sprintf("execution timed out (limit: %s)", formatDeadline(o.Deadline))
	case StatusFailed:
		return o.FailureReason
	}
	return ""
}

// Output renders the outcome as the single text blob shown by the "run code"
// endpoint: stdout followed by any stderr.
func (o Outcome) Output() string {
	switch o.Status() {
	case StatusTimedOut:
		return fmt.Sprintf("Error: Execution timed out (limit: %s).", formatDeadline(o.Deadline))
	case StatusFailed:
		return "Error: " + o.FailureReason
	}

	var b strings.Builder
	b.WriteString(o.Stdout)
	if o.Stderr != "" {
		b.WriteString("\nError:\n")
		b.WriteString(o.Stderr)
	}
	return b.String()
}

// PolicyFailure builds the outcome for a source rejected by the guard.
func PolicyFailure(pattern string) Outcome {
	return Outcome{
		FailureKind:   FailurePolicyViolation,
		FailureReason: "security violation: " + pattern,
		Pattern:       pattern,
	}
}

// Failure builds a failed outcome of the given kind.
func Failure(kind FailureKind, reason string) Outcome {
	return Outcome{FailureKind: kind, FailureReason: reason}
}

func formatDeadline(d time.Duration) string {
	if d <= 0 {
		return "none"
	}
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return d.String()
}
