package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"

	"dapaggregator/internal/app"
	"dapaggregator/internal/dap"
	"dapaggregator/internal/task"
	pkgstrings "dapaggregator/pkg/strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// urlColumnMaxLen keeps a task's leader/helper URL columns from blowing out
// "task list" table width; the full URLs stay in the stored task
// configuration.
const urlColumnMaxLen = 40

var taskConfigPath string

// taskCmd groups task-configuration CRUD subcommands, the operator-facing
// counterpart to task provisioning (spec.md §4.3 covers the in-band
// taskprov path; these subcommands cover out-of-band provisioning).
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage task configurations",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every provisioned task",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new task configuration",
	Args:  cobra.NoArgs,
	RunE:  runTaskCreate,
}

var (
	taskCreateVersion       string
	taskCreateVdaf          string
	taskCreateQueryType     string
	taskCreateMaxBatchSize   uint64
	taskCreateMinBatchSize   uint64
	taskCreateTimePrecision  uint64
	taskCreateLifetimeWindow uint64
	taskCreateLeaderURL      string
	taskCreateHelperURL      string
)

func taskStoreFromConfigPath() (task.ConfigStore, error) {
	cfg := app.NewConfig(false, taskConfigPath)
	cfg.Silent = true
	application, err := app.NewApplication(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return application.Services().Tasks, nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	store, err := taskStoreFromConfigPath()
	if err != nil {
		return err
	}
	lister, ok := store.(task.Lister)
	if !ok {
		return fmt.Errorf("the configured task store does not support listing")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ids, err := lister.List(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Task ID", "Version", "VDAF", "Query Type", "Leader URL", "Helper URL"})
	for _, id := range ids {
		cfg, found, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		t.AppendRow(table.Row{
			id.Hex(), cfg.Version, cfg.Vdaf, queryTypeName(cfg.Query.Type),
			pkgstrings.TruncateDescription(cfg.LeaderURL, urlColumnMaxLen),
			pkgstrings.TruncateDescription(cfg.HelperURL, urlColumnMaxLen),
		})
	}
	t.Render()
	return nil
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	store, err := taskStoreFromConfigPath()
	if err != nil {
		return err
	}

	var taskID dap.TaskId
	if _, err := rand.Read(taskID[:]); err != nil {
		return fmt.Errorf("generating task id: %w", err)
	}

	cfg := task.Config{
		ID:             taskID,
		Version:        dap.ParseVersion(taskCreateVersion),
		Vdaf:           task.VdafID(taskCreateVdaf),
		Query:          dap.QueryConfig{Type: parseQueryType(taskCreateQueryType), MaxBatchSize: taskCreateMaxBatchSize},
		TimePrecision:  taskCreateTimePrecision,
		MinBatchSize:   taskCreateMinBatchSize,
		LifetimeWindow: taskCreateLifetimeWindow,
		LeaderURL:      taskCreateLeaderURL,
		HelperURL:      taskCreateHelperURL,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := store.Put(ctx, taskID, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created task %s\n", taskID.Hex())
	return nil
}

func queryTypeName(q dap.QueryType) string {
	if q == dap.QueryFixedSize {
		return "fixed-size"
	}
	return "time-interval"
}

func parseQueryType(s string) dap.QueryType {
	if s == "fixed-size" {
		return dap.QueryFixedSize
	}
	return dap.QueryTimeInterval
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.PersistentFlags().StringVar(&taskConfigPath, "config-path", "dapaggregator.yaml", "Path to the aggregator configuration file")

	taskCmd.AddCommand(taskListCmd)

	taskCmd.AddCommand(taskCreateCmd)
	taskCreateCmd.Flags().StringVar(&taskCreateVersion, "version", "v04", "DAP draft version (v02 or v04)")
	taskCreateCmd.Flags().StringVar(&taskCreateVdaf, "vdaf", "toycount", "VDAF identifier")
	taskCreateCmd.Flags().StringVar(&taskCreateQueryType, "query-type", "time-interval", "Batch query type (time-interval or fixed-size)")
	taskCreateCmd.Flags().Uint64Var(&taskCreateMaxBatchSize, "max-batch-size", 0, "Maximum batch size (fixed-size queries only)")
	taskCreateCmd.Flags().Uint64Var(&taskCreateMinBatchSize, "min-batch-size", 10, "Minimum batch size before a collection can finish")
	taskCreateCmd.Flags().Uint64Var(&taskCreateTimePrecision, "time-precision", 3600, "Time precision in seconds")
	taskCreateCmd.Flags().Uint64Var(&taskCreateLifetimeWindow, "lifetime-window", 0, "How far back (seconds) a report's time may fall and still be accepted; 0 means unbounded")
	taskCreateCmd.Flags().StringVar(&taskCreateLeaderURL, "leader-url", "", "Leader aggregator base URL")
	taskCreateCmd.Flags().StringVar(&taskCreateHelperURL, "helper-url", "", "Helper aggregator base URL")
}
