package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/executor"
	"github.com/michaelbrown/labrunner/internal/pipeline"
)

var (
	languageFlag string
	stdinFlag    string
	deadlineFlag string
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a snippet in the sandbox",
	Long: `Run source code through the guard and sandbox and print its output.
Reads the program from stdin when no file (or "-") is given.

Examples:
  labrunner run hello.py
  echo 'print(input())' | labrunner run --stdin hi`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&languageFlag, "language", "python", "Source language")
	runCmd.Flags().StringVar(&stdinFlag, "stdin", "", "Input passed to the program")
	runCmd.Flags().StringVar(&deadlineFlag, "deadline", "", "Wall-clock limit (e.g. 2s); default from config")
	rootCmd.AddCommand(runCmd)
}

func readSource(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(args[0])
	return string(data), err
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	source, err := readSource(args)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	p, err := pipeline.New(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	opts := executor.RunOptions{}
	if cmd.Flags().Changed("stdin") {
		opts.Stdin = &stdinFlag
	}
	if deadlineFlag != "" {
		d, err := parseDeadline(deadlineFlag)
		if err != nil {
			return err
		}
		opts.Deadline = d
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := p.Executor.Run(ctx, execution.SubmittedCode{
		Source:   source,
		Language: execution.ParseLanguage(languageFlag),
	}, opts)

	fmt.Print(out.Output())
	if err := out.Err(); err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("exit code %d", out.ExitCode)
	}
	return nil
}
