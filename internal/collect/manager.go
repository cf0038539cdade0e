package collect

import (
	"context"

	"dapaggregator/internal/dap"
	"dapaggregator/internal/hpke"
	"dapaggregator/internal/store"
	"dapaggregator/internal/task"
	"dapaggregator/pkg/logging"
)

// HelperClient is the Leader's view of its peer Helper for the collection
// flow: one AggShareReq per background-finisher pass (spec.md §4.7).
type HelperClient interface {
	AggregateShareReq(ctx context.Context, cfg task.Config, sel dap.BatchSelector, aggParam []byte) (dap.AggregateShare, error)
}

// Manager runs the Leader Collection Flow: put_collection, poll_collection,
// and the background finisher that drives pending jobs to completion
// (spec.md §4.7).
type Manager struct {
	Jobs       store.LeaderCollectionJobQueue
	AggStore   store.AggregateStore
	BatchQueue store.LeaderBatchQueue // nil for time-interval-only deployments
	Tasks      task.ConfigStore
	Helper     HelperClient
	Collector  hpke.Sealer
	Combine    store.CombinePayload
}

// PutCollection enqueues a new collection job for req and returns its
// newly assigned id, rejecting req if its batch selector overlaps a bucket
// already collected (spec.md §4.7, "Collection exclusivity"). A repeated
// identical request gets another new job; ids are not reused.
func (m *Manager) PutCollection(ctx context.Context, cfg task.Config, req CollectReq) (dap.CollectionJobId, error) {
	span := dap.Span(req.Selector, cfg.TimePrecision)
	if len(span) == 0 {
		return dap.CollectionJobId{}, dap.NewAbortForTask(dap.AbortBatchInvalid, req.TaskID, "batch selector spans no buckets")
	}
	for _, bucket := range span {
		collected, err := m.AggStore.CheckCollected(ctx, cfg.Version, req.TaskID, bucket.Key(cfg.Query.Type))
		if err != nil {
			return dap.CollectionJobId{}, dap.WrapFatal("checking bucket collected", err)
		}
		if collected {
			return dap.CollectionJobId{}, dap.NewAbortForTask(dap.AbortBatchOverlap, req.TaskID, "selector overlaps an already-collected bucket")
		}
	}

	id, err := m.Jobs.Enqueue(ctx, store.CollectionJob{
		TaskID:   req.TaskID,
		Selector: req.Selector,
		AggParam: req.AggParam,
	})
	if err != nil {
		return dap.CollectionJobId{}, dap.WrapFatal("enqueueing collection job", err)
	}
	logging.Info("CollectManager", "enqueued collection job %s for task %s", id, logging.TruncateID(req.TaskID.Hex()))
	return id, nil
}

// PollCollection reports a collection job's current status.
func (m *Manager) PollCollection(ctx context.Context, taskID dap.TaskId, id dap.CollectionJobId) (PollResult, error) {
	job, found, err := m.Jobs.Get(ctx, taskID, id)
	if err != nil {
		return PollResult{}, dap.WrapFatal("looking up collection job", err)
	}
	if !found {
		return PollResult{Status: PollUnknown}, nil
	}
	if job.State == store.CollectionPending {
		return PollResult{Status: PollPending}, nil
	}
	return PollResult{Status: PollDone, Result: Collection{
		ReportCount:       0, // the Leader doesn't retain the merged count separately from the sealed share
		EncryptedAggShare: *job.Result,
	}}, nil
}

// FinishPending drives every pending collection job one step: issuing an
// AggShareReq to the Helper, combining shares, sealing the result, marking
// every span bucket collected, and transitioning the job to Done (spec.md
// §4.7, "Background finisher"). Jobs whose combined report count hasn't yet
// reached the task's min_batch_size are left Pending for a later pass.
func (m *Manager) FinishPending(ctx context.Context) error {
	jobs, err := m.Jobs.Pending(ctx)
	if err != nil {
		return dap.WrapFatal("listing pending collection jobs", err)
	}
	for _, job := range jobs {
		if err := m.finishOne(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) finishOne(ctx context.Context, job store.CollectionJob) error {
	cfg, found, err := m.Tasks.Get(ctx, job.TaskID)
	if err != nil {
		return dap.WrapFatal("loading task config", err)
	}
	if !found {
		logging.Info("CollectManager", "skipping collection job %s: task %s no longer exists", job.ID, logging.TruncateID(job.TaskID.Hex()))
		return nil
	}

	span := dap.Span(job.Selector, cfg.TimePrecision)
	leaderShare, err := m.leaderSpanShare(ctx, cfg, span)
	if err != nil {
		return err
	}

	helperShare, err := m.Helper.AggregateShareReq(ctx, cfg, job.Selector, job.AggParam)
	if err != nil {
		return err
	}

	combined := dap.Merge(leaderShare, helperShare, m.Combine)
	if combined.ReportCount < cfg.MinBatchSize {
		logging.Info("CollectManager", "collection job %s not yet eligible: %d reports, min %d", job.ID, combined.ReportCount, cfg.MinBatchSize)
		return nil
	}

	sealed, err := m.Collector.Seal(cfg.CollectorHpke, combined.Payload, hpke.DomainString(cfg.Version), collectionAAD(job.TaskID, combined))
	if err != nil {
		return dap.WrapFatal("sealing collection result", err)
	}

	for _, bucket := range span {
		if err := m.AggStore.MarkCollected(ctx, cfg.Version, job.TaskID, bucket.Key(cfg.Query.Type)); err != nil {
			return dap.WrapFatal("marking bucket collected", err)
		}
	}
	if cfg.Query.Type == dap.QueryFixedSize && m.BatchQueue != nil {
		if err := m.BatchQueue.Remove(ctx, job.TaskID, job.Selector.BatchID); err != nil {
			return dap.WrapFatal("removing finalized batch", err)
		}
	}

	if err := m.Jobs.Finish(ctx, job.TaskID, job.ID, sealed); err != nil {
		return dap.WrapFatal("finishing collection job", err)
	}
	logging.Info("CollectManager", "finished collection job %s: %d reports", job.ID, combined.ReportCount)
	return nil
}

// leaderSpanShare merges every bucket in span into one AggregateShare: the
// Leader's half of the combined share the finisher hands to the Collector
// (spec.md §4.5, "Batch-selector operations ... fan out across all buckets
// of the selector's span").
func (m *Manager) leaderSpanShare(ctx context.Context, cfg task.Config, span []dap.BatchBucket) (dap.AggregateShare, error) {
	var total dap.AggregateShare
	for _, bucket := range span {
		share, err := m.AggStore.Get(ctx, cfg.Version, cfg.ID, bucket.Key(cfg.Query.Type))
		if err != nil {
			return dap.AggregateShare{}, dap.WrapFatal("reading bucket share", err)
		}
		if share.Empty() {
			continue
		}
		total = dap.Merge(total, share, m.Combine)
	}
	return total, nil
}

func collectionAAD(taskID dap.TaskId, share dap.AggregateShare) []byte {
	aad := append([]byte(nil), taskID[:]...)
	aad = append(aad, share.Checksum[:]...)
	return aad
}
