package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/pipeline"
)

var gradeVerbose bool

var gradeCmd = &cobra.Command{
	Use:   "grade <exercise-id> [file]",
	Short: "Grade a solution against an exercise's test cases",
	Long: `Grade a solution file (or stdin) against an exercise from the catalog.
Results are printed but not recorded.

Examples:
  labrunner grade sum-of-two solution.py`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runGrade,
}

func init() {
	gradeCmd.Flags().BoolVarP(&gradeVerbose, "verbose", "v", false, "Show stderr of failed cases")
	rootCmd.AddCommand(gradeCmd)
}

func runGrade(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	ex, err := catalog.Get(args[0])
	if err != nil {
		return fmt.Errorf("exercise %q: %w", args[0], err)
	}
	source, err := readSource(args[1:])
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	p, err := pipeline.New(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := p.Coordinator.SubmitStream(ctx, ex, source, func(r execution.TestCaseResult) {
		printCaseResult(r, gradeVerbose)
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n%s: %d/%d passed\n", ex.Title, res.PassedCount, res.TotalCount)
	if !res.AllPassed {
		return fmt.Errorf("%d case(s) failed", res.TotalCount-res.PassedCount)
	}
	return nil
}

func printCaseResult(r execution.TestCaseResult, verbose bool) {
	mark := "\033[32m✓\033[0m"
	if !r.Passed {
		mark = "\033[31m✗\033[0m"
	}
	fmt.Printf("%s case %d (%s)\n", mark, r.Index, r.Duration.Round(time.Millisecond))
	if r.Passed {
		return
	}
	fmt.Printf("  \033[90m│ input:    %s\033[0m\n", oneLine(r.Input))
	fmt.Printf("  \033[90m│ expected: %s\033[0m\n", oneLine(r.ExpectedOutput))
	if r.ActualOutput != nil {
		actual := oneLine(*r.ActualOutput)
		if r.Truncated {
			actual += " (truncated)"
		}
		fmt.Printf("  \033[90m│ actual:   %s\033[0m\n", actual)
	}
	if r.Error != "" {
		fmt.Printf("  \033[90m│ error:    %s\033[0m\n", r.Error)
	}
	if verbose && r.Stderr != "" {
		for _, line := range strings.Split(strings.TrimRight(r.Stderr, "\n"), "\n") {
			fmt.Printf("  \033[90m│ %s\033[0m\n", line)
		}
	}
}

func oneLine(s string) string {
	return truncate(strings.ReplaceAll(strings.TrimSpace(s), "\n", "⏎"), 80)
}

func parseDeadline(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid deadline %q", s)
	}
	return d, nil
}
