package cmd

import (
	"context"
	"fmt"

	"dapaggregator/internal/app"

	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the aggregator process.
var serveDebug bool

// serveConfigPath points at the YAML file holding the global, taskprov, and
// server-role configuration (internal/config).
var serveConfigPath string

// serveCmd starts one side (Leader, Helper, or both, per the loaded
// configuration's server.role) of a DAP deployment.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the DAP aggregator HTTP server",
	Long: `Starts the aggregator HTTP server: accepts Client report uploads,
drives the Aggregator State Machine with its Helper peer, and serves the
Leader Collection Flow to a Collector.

Which role(s) the process plays, where it listens, and where it persists
task configuration are all read from the file at --config-path
(server.role, server.listen_addr, server.task_store_dir).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveConfigPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug-level logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "dapaggregator.yaml", "Path to the aggregator configuration file")
}
