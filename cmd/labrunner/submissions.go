package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/labrunner/internal/storage"
)

var (
	userFilter     string
	exerciseFilter string
	statusFilter   string
	limitFlag      int
	exportFormat   string
	exportOutput   string
	forceFlag      bool
)

var submissionsCmd = &cobra.Command{
	Use:     "submissions",
	Aliases: []string{"submission", "subs"},
	Short:   "Inspect recorded submissions",
}

var submissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded submissions",
	RunE:  runSubmissionsList,
}

var submissionsShowCmd = &cobra.Command{
	Use:   "show <submission-id>",
	Short: "Show a submission and its case results",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmissionsShow,
}

var submissionsDeleteCmd = &cobra.Command{
	Use:   "delete <submission-id>",
	Short: "Delete a submission (returns the attempt to the user)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmissionsDelete,
}

var submissionsExportCmd = &cobra.Command{
	Use:   "export <submission-id>",
	Short: "Export a submission as markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmissionsExport,
}

func init() {
	rootCmd.AddCommand(submissionsCmd)
	submissionsCmd.AddCommand(submissionsListCmd, submissionsShowCmd, submissionsDeleteCmd, submissionsExportCmd)

	submissionsListCmd.Flags().StringVar(&userFilter, "user", "", "Filter by user id")
	submissionsListCmd.Flags().StringVar(&exerciseFilter, "exercise", "", "Filter by exercise id")
	submissionsListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (passed, failed)")
	submissionsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max submissions to show")

	submissionsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	submissionsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	submissionsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStoreFromConfig(ctx context.Context) (storage.Store, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(ctx, cfg)
}

func runSubmissionsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStoreFromConfig(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	subs, err := store.ListSubmissions(ctx, storage.ListOptions{
		UserID:     userFilter,
		ExerciseID: exerciseFilter,
		Status:     storage.SubmissionStatus(statusFilter),
		Limit:      limitFlag,
	})
	if err != nil {
		return err
	}

	if len(subs) == 0 {
		fmt.Println("No submissions found.")
		return nil
	}

	fmt.Printf("%-10s %-8s %-8s %-16s %-20s %s\n", "ID", "STATUS", "SCORE", "USER", "EXERCISE", "CREATED")
	fmt.Println(strings.Repeat("─", 80))
	for _, s := range subs {
		fmt.Printf("%-10s %-8s %-8s %-16s %-20s %s\n",
			s.ID[:8], s.Status, fmt.Sprintf("%d/%d", s.PassedCount, s.TotalCount),
			truncate(s.UserID, 16), truncate(s.ExerciseID, 20), timeAgo(s.CreatedAt))
	}
	return nil
}

func runSubmissionsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStoreFromConfig(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sub, err := store.GetSubmission(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Submission: %s\n", sub.ID)
	fmt.Printf("User:       %s\n", sub.UserID)
	fmt.Printf("Exercise:   %s\n", sub.ExerciseID)
	fmt.Printf("Status:     %s (%d/%d)\n", sub.Status, sub.PassedCount, sub.TotalCount)
	fmt.Printf("Created:    %s\n", sub.CreatedAt.Format(time.RFC3339))
	if sub.Hint != "" {
		fmt.Printf("Hint:       %s\n", truncate(sub.Hint, 200))
	}

	fmt.Printf("\nSource:\n")
	for _, l := range strings.Split(strings.TrimRight(sub.Source, "\n"), "\n") {
		fmt.Printf("  \033[90m│\033[0m %s\n", l)
	}

	fmt.Printf("\nResults: %d\n", len(sub.Results))
	fmt.Println(strings.Repeat("─", 60))
	for _, r := range sub.Results {
		printCaseResult(r, false)
	}
	return nil
}

func runSubmissionsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStoreFromConfig(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sub, err := store.GetSubmission(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		fmt.Printf("Delete submission %s by %s for %s? [y/N] ", sub.ID[:8], sub.UserID, sub.ExerciseID)
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.DeleteSubmission(ctx, sub.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted submission %s\n", sub.ID[:8])
	return nil
}

func runSubmissionsExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStoreFromConfig(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sub, err := store.GetSubmission(ctx, args[0])
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(sub)
		if err != nil {
			return err
		}
		output = string(data)
	default:
		output = storage.ExportMarkdown(sub)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
