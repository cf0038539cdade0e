package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"dapaggregator/internal/app"
	"dapaggregator/internal/collect"
	"dapaggregator/internal/dap"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var collectConfigPath string

// collectCmd drives the Leader Collection Flow (spec.md §4.7) against a
// task's local collect.Manager — the same component the server process
// wires up, run here in-process rather than over HTTP, for one-shot
// operator use. Task configurations come from the configured task store;
// the report, aggregate and collection-job stores are this command's own
// in-memory ones.
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Drive a collection job against a task",
}

var (
	collectTaskIDHex    string
	collectBatchIDHex   string
	collectTimeLow      uint64
	collectTimeHi       uint64
	collectWaitSeconds  int
	collectPollInterval int
)

var collectPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Start a new collection job and wait for it to complete",
	Args:  cobra.NoArgs,
	RunE:  runCollectPut,
}

func collectServices() (*app.Services, error) {
	cfg := app.NewConfig(false, collectConfigPath)
	cfg.Silent = true
	application, err := app.NewApplication(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	services := application.Services()
	if services.CollectMgr == nil {
		return nil, fmt.Errorf("this process is configured as a Helper-only aggregator; collection requires a Leader")
	}
	return services, nil
}

func parseCollectSelector() (dap.TaskId, dap.BatchSelector, error) {
	taskIDBytes, err := hex.DecodeString(collectTaskIDHex)
	if err != nil || len(taskIDBytes) != len(dap.TaskId{}) {
		return dap.TaskId{}, dap.BatchSelector{}, fmt.Errorf("invalid --task-id")
	}
	var taskID dap.TaskId
	copy(taskID[:], taskIDBytes)

	if collectBatchIDHex != "" {
		batchID, err := dap.BatchIdFromHex(collectBatchIDHex)
		if err != nil {
			return dap.TaskId{}, dap.BatchSelector{}, fmt.Errorf("invalid --batch-id: %w", err)
		}
		return taskID, dap.BatchSelector{Type: dap.QueryFixedSize, BatchID: batchID}, nil
	}
	return taskID, dap.BatchSelector{
		Type:            dap.QueryTimeInterval,
		TimeIntervalLow: collectTimeLow,
		TimeIntervalHi:  collectTimeHi,
	}, nil
}

func runCollectPut(cmd *cobra.Command, args []string) error {
	services, err := collectServices()
	if err != nil {
		return err
	}
	taskID, selector, err := parseCollectSelector()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	taskCfg, found, err := services.Tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("task %s not found", collectTaskIDHex)
	}

	mgr := services.CollectMgr
	jobID, err := mgr.PutCollection(ctx, taskCfg, collect.CollectReq{TaskID: taskID, Selector: selector})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "collection job %s started\n", jobID)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " waiting for collection to finish..."
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(time.Duration(collectWaitSeconds) * time.Second)
	for time.Now().Before(deadline) {
		// A standalone "collect put" has no server-side background
		// finisher running, so drive one pass of it here before polling.
		if err := mgr.FinishPending(ctx); err != nil {
			return err
		}
		result, err := mgr.PollCollection(ctx, taskID, jobID)
		if err != nil {
			return err
		}
		if result.Status == collect.PollDone {
			s.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "collection finished: %d reports\n", result.Result.ReportCount)
			return nil
		}
		time.Sleep(time.Duration(collectPollInterval) * time.Second)
	}
	s.Stop()
	return fmt.Errorf("collection job %s did not finish within %ds", jobID, collectWaitSeconds)
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.PersistentFlags().StringVar(&collectConfigPath, "config-path", "dapaggregator.yaml", "Path to the aggregator configuration file")

	collectCmd.AddCommand(collectPutCmd)
	collectPutCmd.Flags().StringVar(&collectTaskIDHex, "task-id", "", "Hex-encoded task id")
	collectPutCmd.Flags().StringVar(&collectBatchIDHex, "batch-id", "", "Hex-encoded batch id (fixed-size queries)")
	collectPutCmd.Flags().Uint64Var(&collectTimeLow, "time-low", 0, "Inclusive time-interval lower bound (time-interval queries)")
	collectPutCmd.Flags().Uint64Var(&collectTimeHi, "time-high", 0, "Exclusive time-interval upper bound (time-interval queries)")
	collectPutCmd.Flags().IntVar(&collectWaitSeconds, "wait", 60, "Seconds to wait for the job to finish")
	collectPutCmd.Flags().IntVar(&collectPollInterval, "poll-interval", 2, "Seconds between poll attempts")
	collectPutCmd.MarkFlagRequired("task-id")
}
