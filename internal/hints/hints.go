// Package hints asks a language model for a nudge when a submission fails.
package hints

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/exercise"
)

const systemPrompt = `You are a patient programming tutor. A student's solution to a coding exercise failed a test case.
Give one short hint (at most three sentences) that points them toward the bug.
Never write the corrected program and never reveal the expected solution.`

// Config holds hint generation settings.
type Config struct {
	Timeout  time.Duration
	MaxChars int // hints are cut to this length; zero = unlimited
}

// Hinter produces hints for failed submissions.
type Hinter struct {
	completer Completer
	cfg       Config
	log       zerolog.Logger
}

func New(c Completer, cfg Config, logger zerolog.Logger) *Hinter {
	return &Hinter{
		completer: c,
		cfg:       cfg,
		log:       logger.With().Str("component", "hints").Logger(),
	}
}

// Hint returns an empty string when every case passed.
func (h *Hinter) Hint(ctx context.Context, ex *exercise.Exercise, source string, res execution.GradingResult) (string, error) {
	failed, ok := res.FirstFailure()
	if !ok {
		return "", nil
	}

	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	hint, err := h.completer.Complete(ctx, systemPrompt, buildPrompt(ex, source, failed))
	if err != nil {
		return "", fmt.Errorf("generating hint: %w", err)
	}
	h.log.Debug().Dur("duration", time.Since(start)).Str("exercise", ex.ID).Msg("hint generated")

	hint = strings.TrimSpace(hint)
	if h.cfg.MaxChars > 0 && len([]rune(hint)) > h.cfg.MaxChars {
		hint = string([]rune(hint)[:h.cfg.MaxChars]) + "…"
	}
	return hint, nil
}

func buildPrompt(ex *exercise.Exercise, source string, failed execution.TestCaseResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Exercise: %s\n\n%s\n\n", ex.Title, strings.TrimSpace(ex.Description))
	fmt.Fprintf(&b, "Student code (%s):\n```\n%s\n```\n\n", ex.Language, strings.TrimRight(source, "\n"))
	fmt.Fprintf(&b, "Failing test case %d\nInput:\n```\n%s\n```\nExpected output:\n```\n%s\n```\n",
		failed.Index, failed.Input, failed.ExpectedOutput)
	switch {
	case failed.Error != "":
		fmt.Fprintf(&b, "Problem: %s\n", failed.Error)
		if failed.Stderr != "" {
			fmt.Fprintf(&b, "Stderr:\n```\n%s\n```\n", strings.TrimSpace(failed.Stderr))
		}
	case failed.ActualOutput != nil:
		fmt.Fprintf(&b, "Actual output:\n```\n%s\n```\n", strings.TrimRight(*failed.ActualOutput, "\n"))
	}
	return b.String()
}
