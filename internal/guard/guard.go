// Package guard screens submitted source before it is handed to an interpreter.
//
// A Guard is a static check only. It is the first line of defence for the
// process backend and can be swapped for a stricter checker, or for Noop when
// isolation is delegated to a container, without touching the executor.
package guard

import (
	"fmt"
	"strings"
)

// Guard screens source text against a forbidden-construct policy.
type Guard interface {
	// Screen returns nil when the source is acceptable, or a
	// *execution.PolicyViolation naming the first offending construct.
	Screen(source string) error
}

// Strategy names accepted by New.
const (
	StrategyDenylist = "denylist"
	StrategyImports  = "imports"
	StrategyNone     = "none"
)

// DefaultPatterns is the baseline substring policy.
func DefaultPatterns() []string {
	return []string{
		"import os",
		"import subprocess",
		"import sys",
		"from os",
		"from subprocess",
		"from sys",
		"__import__",
		"open(",
	}
}

// Config selects and parameterises a guard strategy.
type Config struct {
	Strategy string
	Patterns []string
	Modules  []string
	Builtins []string
}

// New builds the guard named by cfg.Strategy. Empty lists fall back to defaults.
func New(cfg Config) (Guard, error) {
	switch strings.ToLower(cfg.Strategy) {
	case "", StrategyDenylist:
		patterns := cfg.Patterns
		if len(patterns) == 0 {
			patterns = DefaultPatterns()
		}
		return NewDenylist(patterns), nil
	case StrategyImports:
		return NewImportChecker(cfg.Modules, cfg.Builtins), nil
	case StrategyNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown guard strategy %q", cfg.Strategy)
	}
}

// Noop accepts every source. Use it only with an isolating sandbox backend.
type Noop struct{}

func (Noop) Screen(string) error { return nil }
