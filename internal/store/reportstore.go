package store

import (
	"context"
	"sync"

	"dapaggregator/internal/dap"
	"dapaggregator/pkg/logging"
)

// PendingStore holds reports uploaded by Clients that the Leader has not
// yet pulled into an aggregation job, sharded by time bucket
// (reports_pending/{version}/{task_id_hex}/{time_bucket}, spec.md §6).
type PendingStore interface {
	// Put adds r to its task's pending shard. Returns ErrReportExists if a
	// report with the same ID is already pending — a cheap, best-effort
	// replay check; it is not a substitute for ReportsProcessed (the
	// authoritative check the Early-Reject Evaluator runs).
	Put(ctx context.Context, version dap.Version, taskID dap.TaskId, r dap.Report) error

	// Pull removes and returns up to n pending reports for the task, drawn
	// oldest-first.
	Pull(ctx context.Context, version dap.Version, taskID dap.TaskId, n int) ([]dap.Report, error)
}

// ErrReportExists is returned by PendingStore.Put for a duplicate ReportId.
type ErrReportExists struct {
	ID dap.ReportId
}

func (e *ErrReportExists) Error() string {
	return "report already pending: " + e.ID.Hex()
}

// ProcessedStore records which ReportIds have completed an aggregation job
// for a task (reports_processed/{version}/{task_id_hex}/{time_bucket}), the
// authoritative replay check the Early-Reject Evaluator consults.
type ProcessedStore interface {
	// MarkProcessed records ids as processed. Idempotent.
	MarkProcessed(ctx context.Context, version dap.Version, taskID dap.TaskId, ids []dap.ReportId) error

	// IsProcessed reports which of ids have already been marked processed.
	IsProcessed(ctx context.Context, version dap.Version, taskID dap.TaskId, ids []dap.ReportId) (map[dap.ReportId]bool, error)
}

// MemReportStore is an in-process PendingStore and ProcessedStore, keyed
// per task regardless of declared time-bucket sharding (a production
// deployment shards across many durable actors for throughput; the
// semantics the core relies on don't depend on how many shards back one
// task).
type MemReportStore struct {
	mu        sync.Mutex
	pending   map[dap.TaskId][]dap.Report
	processed map[dap.TaskId]map[dap.ReportId]bool
}

// NewMemReportStore builds an empty in-memory report store.
func NewMemReportStore() *MemReportStore {
	return &MemReportStore{
		pending:   make(map[dap.TaskId][]dap.Report),
		processed: make(map[dap.TaskId]map[dap.ReportId]bool),
	}
}

func (s *MemReportStore) Put(_ context.Context, _ dap.Version, taskID dap.TaskId, r dap.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.pending[taskID] {
		if existing.Metadata.ID.Equal(r.Metadata.ID) {
			return &ErrReportExists{ID: r.Metadata.ID}
		}
	}
	s.pending[taskID] = append(s.pending[taskID], r)
	logging.Debug("ReportStore", "queued pending report %s for task %s", logging.TruncateID(r.Metadata.ID.Hex()), taskID)
	return nil
}

func (s *MemReportStore) Pull(_ context.Context, _ dap.Version, taskID dap.TaskId, n int) ([]dap.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.pending[taskID]
	if n > len(all) {
		n = len(all)
	}
	out := append([]dap.Report(nil), all[:n]...)
	s.pending[taskID] = all[n:]
	return out, nil
}

func (s *MemReportStore) MarkProcessed(_ context.Context, _ dap.Version, taskID dap.TaskId, ids []dap.ReportId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.processed[taskID]
	if !ok {
		set = make(map[dap.ReportId]bool)
		s.processed[taskID] = set
	}
	for _, id := range ids {
		set[id] = true
	}
	return nil
}

func (s *MemReportStore) IsProcessed(_ context.Context, _ dap.Version, taskID dap.TaskId, ids []dap.ReportId) (map[dap.ReportId]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.processed[taskID]
	out := make(map[dap.ReportId]bool, len(ids))
	for _, id := range ids {
		out[id] = set[id]
	}
	return out, nil
}
