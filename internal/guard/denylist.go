package guard

import (
	"strings"

	"github.com/michaelbrown/labrunner/internal/execution"
)

// Denylist rejects source containing any of its patterns as a raw,
// case-sensitive substring. It knows nothing about comments or string
// literals, so `# import os` is rejected too.
type Denylist struct {
	patterns []string
}

// NewDenylist copies patterns; scan order is the order given.
func NewDenylist(patterns []string) *Denylist {
	p := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if pattern != "" {
			p = append(p, pattern)
		}
	}
	return &Denylist{patterns: p}
}

// Screen stops at the first pattern found.
func (d *Denylist) Screen(source string) error {
	for _, pattern := range d.patterns {
		if strings.Contains(source, pattern) {
			return &execution.PolicyViolation{Pattern: pattern}
		}
	}
	return nil
}

// Patterns returns a copy of the policy.
func (d *Denylist) Patterns() []string {
	return append([]string(nil), d.patterns...)
}
