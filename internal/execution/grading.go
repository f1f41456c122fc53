package execution

import "time"

// TestCase is one stdin/expected-stdout pair of an exercise.
type TestCase struct {
	Input          string `json:"input" yaml:"input"`
	ExpectedOutput string `json:"output" yaml:"output"`
}

// TestCaseResult captures how a single test case went.
//
// ActualOutput is nil iff Error is set.
type TestCaseResult struct {
	Index          int           `json:"index"`
	Input          string        `json:"input"`
	ExpectedOutput string        `json:"expected_output"`
	ActualOutput   *string       `json:"actual_output"`
	Passed         bool          `json:"passed"`
	Error          string        `json:"error,omitempty"`
	Stderr         string        `json:"stderr,omitempty"`
	ExitCode       int           `json:"exit_code"`
	Duration       time.Duration `json:"duration"`
	Truncated      bool          `json:"truncated,omitempty"`
}

// GradingResult aggregates every test case of one submission.
type GradingResult struct {
	PassedCount int              `json:"passed_count"`
	TotalCount  int              `json:"total_count"`
	AllPassed   bool             `json:"all_passed"`
	Results     []TestCaseResult `json:"results"`
}

// NewGradingResult derives the counters from an ordered result slice.
func NewGradingResult(results []TestCaseResult) GradingResult {
	if results == nil {
		results = []TestCaseResult{}
	}
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	return GradingResult{
		PassedCount: passed,
		TotalCount:  len(results),
		AllPassed:   passed == len(results),
		Results:     results,
	}
}

// FirstFailure returns the first case that did not pass.
func (g GradingResult) FirstFailure() (TestCaseResult, bool) {
	for _, r := range g.Results {
		if !r.Passed {
			return r, true
		}
	}
	return TestCaseResult{}, false
}
