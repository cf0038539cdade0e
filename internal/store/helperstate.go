package store

import (
	"context"
	"sync"

	"dapaggregator/internal/dap"
)

// HelperState is the Helper's durable continuation for one in-progress
// aggregation job: a prepare-state blob per surviving report, opaque to
// this package (the VDAF oracle owns its shape), plus the per-report
// TransitionFailures already decided so retries stay bytewise identical
// (spec.md §4.4, "Idempotency").
type HelperState struct {
	PrepareState map[dap.ReportId][]byte
	// Messages holds the outbound VDAF prepare message sent to the Leader
	// for each still-continuing report, kept alongside PrepareState so a
	// replayed request returns the identical response without re-deriving
	// it from opaque continuation state (spec.md §4.4, "Idempotency").
	Messages map[dap.ReportId][]byte
	Failures map[dap.ReportId]dap.TransitionFailure
	// Order is the report id order of the AggJobInitReq that produced this
	// state, persisted so a replayed init request rebuilds its AggJobResp
	// in that same order rather than an arbitrary map iteration order
	// (spec.md §4.4, "responses must maintain the input order of the init
	// request's report_share list"; §8, "bytewise-identical AggJobResp").
	Order []dap.ReportId
	// Round counts how many AggJobInitReq/AggJobContinueReq rounds this job
	// has processed, used to detect a replayed vs. a genuinely new round.
	Round int
}

// HelperStateStore is the durable actor backing one Helper aggregation job
// (helper_state/{version}/{task_id_hex}/{agg_job_id_hex}, spec.md §6).
// Lookup must be idempotent: the same (task, agg_job) key always resolves
// to the same record until Delete.
type HelperStateStore interface {
	Get(ctx context.Context, version dap.Version, taskID dap.TaskId, aggJobID dap.AggregationJobId) (HelperState, bool, error)
	Put(ctx context.Context, version dap.Version, taskID dap.TaskId, aggJobID dap.AggregationJobId, state HelperState) error
	Delete(ctx context.Context, version dap.Version, taskID dap.TaskId, aggJobID dap.AggregationJobId) error
}

// MemHelperStateStore is an in-process HelperStateStore.
type MemHelperStateStore struct {
	mu    sync.Mutex
	state map[string]HelperState
}

// NewMemHelperStateStore builds an empty in-memory HelperStateStore.
func NewMemHelperStateStore() *MemHelperStateStore {
	return &MemHelperStateStore{state: make(map[string]HelperState)}
}

func (s *MemHelperStateStore) Get(_ context.Context, version dap.Version, taskID dap.TaskId, aggJobID dap.AggregationJobId) (HelperState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[HelperStateName(version, taskID, aggJobID)]
	return st, ok, nil
}

func (s *MemHelperStateStore) Put(_ context.Context, version dap.Version, taskID dap.TaskId, aggJobID dap.AggregationJobId, state HelperState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[HelperStateName(version, taskID, aggJobID)] = state
	return nil
}

func (s *MemHelperStateStore) Delete(_ context.Context, version dap.Version, taskID dap.TaskId, aggJobID dap.AggregationJobId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, HelperStateName(version, taskID, aggJobID))
	return nil
}
