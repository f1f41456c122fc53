package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks requests rejected before any execution attempt.
	ErrValidation = errors.New("validation error")
	// ErrUnsupportedLanguage is returned for any language without a runtime.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrTimedOut marks runs killed at their deadline.
	ErrTimedOut = errors.New("execution timed out")
	// ErrCancelled marks runs abandoned because the caller went away.
	ErrCancelled = errors.New("execution cancelled")
)

// PolicyViolation reports a forbidden construct found in submitted source.
type PolicyViolation struct {
	Pattern string
}

func (p *PolicyViolation) Error() string {
	return fmt.Sprintf("security violation: usage of %q is not allowed", p.Pattern)
}

// LaunchError reports an environment problem starting the interpreter.
type LaunchError struct {
	Reason string
}

func (e *LaunchError) Error() string {
	return "process launch failure: " + e.Reason
}

// Validationf wraps ErrValidation with a message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
