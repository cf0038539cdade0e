package task

import (
	"context"
	"sync"

	"dapaggregator/internal/auth"
	"dapaggregator/internal/dap"
)

// MemTokenStore is an in-process auth.TokenProvider: per-task Leader and
// Collector bearer tokens, plus the two global taskprov fallback tokens a
// provisional task authenticates against until it gets tokens of its own
// (spec.md §4.1). It also implements LeaderTokenStore so the Registry can
// persist a taskprov task's leader token at materialization time (spec.md
// §4.3 step 6).
type MemTokenStore struct {
	mu               sync.RWMutex
	leader           map[dap.TaskId]auth.BearerToken
	collector        map[dap.TaskId]auth.BearerToken
	taskprovLeader   auth.BearerToken
	taskprovCollector auth.BearerToken
}

// NewMemTokenStore builds a MemTokenStore. Either taskprov fallback token
// may be the zero BearerToken to disable that fallback.
func NewMemTokenStore(taskprovLeader, taskprovCollector auth.BearerToken) *MemTokenStore {
	return &MemTokenStore{
		leader:            make(map[dap.TaskId]auth.BearerToken),
		collector:         make(map[dap.TaskId]auth.BearerToken),
		taskprovLeader:    taskprovLeader,
		taskprovCollector: taskprovCollector,
	}
}

func (s *MemTokenStore) LeaderToken(_ context.Context, taskID dap.TaskId) (auth.BearerToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.leader[taskID]
	return t, ok, nil
}

func (s *MemTokenStore) CollectorToken(_ context.Context, taskID dap.TaskId) (auth.BearerToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.collector[taskID]
	return t, ok, nil
}

func (s *MemTokenStore) IsTaskprovLeaderToken(token auth.BearerToken) bool {
	return !s.taskprovLeader.Empty() && token.Equal(s.taskprovLeader)
}

func (s *MemTokenStore) IsTaskprovCollectorToken(token auth.BearerToken) bool {
	return !s.taskprovCollector.Empty() && token.Equal(s.taskprovCollector)
}

// SetLeaderToken implements LeaderTokenStore.
func (s *MemTokenStore) SetLeaderToken(_ context.Context, taskID dap.TaskId, token auth.BearerToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader[taskID] = token
	return nil
}

// SetCollectorToken configures a task's Collector bearer token directly;
// used when an operator provisions a task out-of-band (not via taskprov).
func (s *MemTokenStore) SetCollectorToken(_ context.Context, taskID dap.TaskId, token auth.BearerToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collector[taskID] = token
	return nil
}
