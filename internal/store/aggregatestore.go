package store

import (
	"context"
	"sync"

	"dapaggregator/internal/dap"
	"dapaggregator/pkg/logging"
)

// AggregateStore is the durable actor holding one accumulator per
// (task_id, bucket) (spec.md §4.5). Implementations must serialize all
// operations against the same key: merge/mark-collected races on one
// bucket are a correctness bug, not a performance concern.
type AggregateStore interface {
	// Merge folds delta into the stored share for (taskID, bucket). Fails
	// with a *dap.Transition{Failure: dap.TransitionBatchCollected} if the
	// bucket is already collected.
	Merge(ctx context.Context, version dap.Version, taskID dap.TaskId, bucket dap.BatchBucket, bucketKey string, delta dap.AggregateShare) error

	// Get returns the current share for (taskID, bucket), possibly empty.
	Get(ctx context.Context, version dap.Version, taskID dap.TaskId, bucketKey string) (dap.AggregateShare, error)

	// MarkCollected sets collected=true for (taskID, bucket). Idempotent.
	MarkCollected(ctx context.Context, version dap.Version, taskID dap.TaskId, bucketKey string) error

	// CheckCollected returns the current collected flag.
	CheckCollected(ctx context.Context, version dap.Version, taskID dap.TaskId, bucketKey string) (bool, error)
}

type bucketRecord struct {
	share     dap.AggregateShare
	collected bool
}

// CombinePayload merges two VDAF aggregate-share payloads. The core treats
// this as an oracle (internal/vdaf): it never interprets the bytes itself,
// only threads a caller-supplied combine operation through storage.
type CombinePayload func(a, b []byte) []byte

// MemAggregateStore is an in-process AggregateStore, suitable as the
// reference implementation and for tests. A production deployment backs
// AggregateStore with a real durable-actor substrate keyed by AggStoreName;
// this type exists so the core is fully exercisable without one.
type MemAggregateStore struct {
	mu      sync.Mutex
	records map[string]*bucketRecord
	combine CombinePayload
}

// NewMemAggregateStore builds an empty in-memory AggregateStore. combine
// performs the VDAF payload merge; pass the real VDAF's Combine in
// production and a toy combiner (see internal/vdaf) in tests.
func NewMemAggregateStore(combine CombinePayload) *MemAggregateStore {
	return &MemAggregateStore{records: make(map[string]*bucketRecord), combine: combine}
}

func (s *MemAggregateStore) key(version dap.Version, taskID dap.TaskId, bucketKey string) string {
	return AggStoreName(version, taskID, bucketKey)
}

func (s *MemAggregateStore) Merge(_ context.Context, version dap.Version, taskID dap.TaskId, _ dap.BatchBucket, bucketKey string, delta dap.AggregateShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(version, taskID, bucketKey)
	rec, ok := s.records[k]
	if !ok {
		rec = &bucketRecord{}
		s.records[k] = rec
	}
	if rec.collected {
		return dap.NewTransitionError(dap.TransitionBatchCollected)
	}
	if delta.Empty() {
		return nil
	}
	rec.share.ReportCount += delta.ReportCount
	rec.share.XorChecksum(delta.Checksum)
	rec.share.Payload = s.combine(rec.share.Payload, delta.Payload)
	logging.Debug("AggregateStore", "merged %d reports into bucket %s (total %d)", delta.ReportCount, k, rec.share.ReportCount)
	return nil
}

func (s *MemAggregateStore) Get(_ context.Context, version dap.Version, taskID dap.TaskId, bucketKey string) (dap.AggregateShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[s.key(version, taskID, bucketKey)]
	if !ok {
		return dap.AggregateShare{}, nil
	}
	return rec.share, nil
}

func (s *MemAggregateStore) MarkCollected(_ context.Context, version dap.Version, taskID dap.TaskId, bucketKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(version, taskID, bucketKey)
	rec, ok := s.records[k]
	if !ok {
		rec = &bucketRecord{}
		s.records[k] = rec
	}
	if rec.collected {
		return nil
	}
	rec.collected = true
	logging.Info("AggregateStore", "marked bucket %s collected", k)
	return nil
}

func (s *MemAggregateStore) CheckCollected(_ context.Context, version dap.Version, taskID dap.TaskId, bucketKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[s.key(version, taskID, bucketKey)]
	if !ok {
		return false, nil
	}
	return rec.collected, nil
}
