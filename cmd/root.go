package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
)

// rootCmd is the entry point when dapaggregator is invoked without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "dapaggregator",
	Short: "A Distributed Aggregation Protocol (DAP) aggregator",
	Long: `dapaggregator runs one side (Leader, Helper, or both) of a DAP
deployment: it accepts Client report uploads, drives the Aggregator State
Machine against its peer, and serves the Leader Collection Flow to a
Collector.

Use 'dapaggregator serve' to run the aggregator, 'dapaggregator task' to
manage task configurations, and 'dapaggregator collect' to drive a
collection job with an in-process Leader built from the same configuration.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected at build time
// from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the CLI entry point, called from main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "dapaggregator version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
