package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/labrunner/internal/pipeline"
)

var exercisesCmd = &cobra.Command{
	Use:     "exercises",
	Aliases: []string{"exercise", "ex"},
	Short:   "Inspect the exercise catalog",
}

var exercisesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exercises",
	RunE:  runExercisesList,
}

var exercisesShowCmd = &cobra.Command{
	Use:   "show <exercise-id>",
	Short: "Show an exercise and its test cases",
	Args:  cobra.ExactArgs(1),
	RunE:  runExercisesShow,
}

var exercisesCheckCmd = &cobra.Command{
	Use:   "check [exercise-id...]",
	Short: "Grade reference solutions against their own test cases",
	Long: `Grade each exercise's reference solution. Use this after editing
exercise files to catch test cases that a correct program cannot pass.`,
	RunE: runExercisesCheck,
}

func init() {
	rootCmd.AddCommand(exercisesCmd)
	exercisesCmd.AddCommand(exercisesListCmd, exercisesShowCmd, exercisesCheckCmd)
}

func runExercisesList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	if catalog.Len() == 0 {
		fmt.Printf("No exercises found in %s.\n", cfg.Exercises.Dir)
		return nil
	}

	fmt.Printf("%-20s %-30s %-8s %-6s %s\n", "ID", "TITLE", "CASES", "LIMIT", "COURSE")
	fmt.Println(strings.Repeat("─", 80))
	for _, ex := range catalog.List() {
		limit := "-"
		if ex.MaxAttempts > 0 {
			limit = fmt.Sprint(ex.MaxAttempts)
		}
		fmt.Printf("%-20s %-30s %-8d %-6s %s\n",
			truncate(ex.ID, 20), truncate(ex.Title, 30), len(ex.TestCases), limit, ex.Course)
	}
	return nil
}

func runExercisesShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
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

	fmt.Printf("Exercise: %s\n", ex.ID)
	fmt.Printf("Title:    %s\n", ex.Title)
	if ex.Course != "" {
		fmt.Printf("Course:   %s\n", ex.Course)
	}
	fmt.Printf("Language: %s\n", ex.Language)
	if ex.MaxAttempts > 0 {
		fmt.Printf("Attempts: %d\n", ex.MaxAttempts)
	}
	if ex.Description != "" {
		fmt.Printf("\n%s\n", strings.TrimSpace(ex.Description))
	}
	if ex.StarterCode != "" {
		fmt.Printf("\nStarter code:\n")
		for _, l := range strings.Split(strings.TrimRight(ex.StarterCode, "\n"), "\n") {
			fmt.Printf("  \033[90m│\033[0m %s\n", l)
		}
	}

	fmt.Printf("\nTest cases: %d\n", len(ex.TestCases))
	fmt.Println(strings.Repeat("─", 60))
	for i, tc := range ex.TestCases {
		fmt.Printf("%2d. %s → %s\n", i+1, oneLine(tc.Input), oneLine(tc.ExpectedOutput))
	}
	return nil
}

func runExercisesCheck(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	ids := args
	if len(ids) == 0 {
		for _, ex := range catalog.List() {
			ids = append(ids, ex.ID)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var broken int
	for _, id := range ids {
		ex, err := catalog.Get(id)
		if err != nil {
			return fmt.Errorf("exercise %q: %w", id, err)
		}
		if ex.Solution == "" {
			fmt.Printf("\033[33m-\033[0m %-20s no reference solution\n", ex.ID)
			continue
		}

		res, err := p.Coordinator.Submit(ctx, ex, ex.Solution)
		if err != nil {
			return fmt.Errorf("grading %s: %w", ex.ID, err)
		}
		if res.AllPassed {
			fmt.Printf("\033[32m✓\033[0m %-20s %d/%d\n", ex.ID, res.PassedCount, res.TotalCount)
			continue
		}

		broken++
		fmt.Printf("\033[31m✗\033[0m %-20s %d/%d\n", ex.ID, res.PassedCount, res.TotalCount)
		for _, r := range res.Results {
			if !r.Passed {
				printCaseResult(r, true)
			}
		}
	}

	if broken > 0 {
		return fmt.Errorf("%d exercise(s) fail their own reference solution", broken)
	}
	return nil
}
