package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFlag   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "labrunner",
	Short: "labrunner - sandboxed code execution and grading",
	Long: `labrunner runs learner-submitted Python in a sandbox and grades it
against exercise test cases.

It serves the HTTP/WebSocket API used by the course frontend and offers
the same execution and grading pipeline from the command line.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ./labrunner.yaml or ~/.labrunner/labrunner.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
