package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/executor"
	"github.com/michaelbrown/labrunner/internal/pipeline"
)

var tryCmd = &cobra.Command{
	Use:   "try",
	Short: "Interactively run Python snippets in the sandbox",
	Long: `Start an interactive prompt. Type a program line by line and submit an
empty line to run it. Each run is screened and sandboxed exactly like
the /api/execute endpoint.

Examples:
  labrunner try
  labrunner try --config ./labrunner.yaml`,
	RunE: runTry,
}

func init() {
	rootCmd.AddCommand(tryCmd)
}

// tryState is the REPL's buffered program and pending input.
type tryState struct {
	lines []string
	stdin *string
}

func runTry(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Printf("labrunner - interactive sandbox\n")
	fmt.Printf("Backend: %s | Guard: %s | Deadline: %s\n", cfg.Sandbox.Backend, cfg.Guard.Strategy, cfg.Sandbox.Deadline)
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	historyFile := filepath.Join(os.TempDir(), "labrunner_history")
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".labrunner", "history")
		os.MkdirAll(filepath.Dir(historyFile), 0o755)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36m>>>\033[0m ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C during a run cancels that run only.
	var runCancel context.CancelFunc
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if runCancel != nil {
				runCancel()
			}
		}
	}()

	state := &tryState{}
	for {
		if len(state.lines) == 0 {
			rl.SetPrompt("\033[36m>>>\033[0m ")
		} else {
			rl.SetPrompt("\033[36m...\033[0m ")
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		if strings.HasPrefix(strings.TrimSpace(line), "/") {
			if quit := handleTryCommand(strings.TrimSpace(line), state); quit {
				return nil
			}
			continue
		}

		if strings.TrimSpace(line) != "" {
			state.lines = append(state.lines, line)
			continue
		}
		if len(state.lines) == 0 {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		runCancel = cancel
		out := p.Executor.Run(ctx, execution.SubmittedCode{
			Source:   strings.Join(state.lines, "\n") + "\n",
			Language: execution.LanguagePython,
		}, executor.RunOptions{Stdin: state.stdin})
		cancel()
		runCancel = nil

		printOutcome(out)
		state.lines = nil
	}
}

func printOutcome(out execution.Outcome) {
	switch out.Status() {
	case execution.StatusCompleted:
		if out.Stdout != "" {
			fmt.Print(out.Stdout)
			if !strings.HasSuffix(out.Stdout, "\n") {
				fmt.Println()
			}
		}
		if out.Stderr != "" {
			fmt.Printf("\033[31m%s\033[0m", out.Stderr)
		}
		if out.ExitCode != 0 {
			fmt.Printf("\033[90m(exit code %d, %s)\033[0m\n", out.ExitCode, out.Duration)
		}
	default:
		fmt.Printf("\033[31merror: %s\033[0m\n", out.Description())
	}
	fmt.Println()
}

func handleTryCommand(input string, state *tryState) bool {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		return true
	case "/reset":
		state.lines = nil
		state.stdin = nil
		fmt.Println("Buffer and input cleared.")
		fmt.Println()
	case "/input":
		in := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))
		in = strings.ReplaceAll(in, `\n`, "\n")
		state.stdin = &in
		fmt.Printf("stdin set (%d bytes)\n\n", len(in))
	case "/show":
		if len(state.lines) == 0 {
			fmt.Println("(empty)")
		}
		for i, l := range state.lines {
			fmt.Printf("\033[90m%3d│\033[0m %s\n", i+1, l)
		}
		fmt.Println()
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help          - Show this help")
		fmt.Println("  /input <text>  - Set stdin for following runs (\\n for newlines)")
		fmt.Println("  /show          - Show the buffered program")
		fmt.Println("  /reset         - Clear the buffer and stdin")
		fmt.Println("  /quit          - Exit")
		fmt.Println("Submit an empty line to run the buffered program.")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return false
}
