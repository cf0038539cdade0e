package task

import (
	"context"
	"sync"

	"dapaggregator/internal/dap"
)

// MemConfigStore is an in-process ConfigStore, used by tests and as the
// default when no persistent backing is configured.
type MemConfigStore struct {
	mu      sync.RWMutex
	configs map[dap.TaskId]Config
}

// NewMemConfigStore builds an empty in-memory ConfigStore.
func NewMemConfigStore() *MemConfigStore {
	return &MemConfigStore{configs: make(map[dap.TaskId]Config)}
}

func (s *MemConfigStore) Get(_ context.Context, taskID dap.TaskId) (Config, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[taskID]
	return cfg, ok, nil
}

func (s *MemConfigStore) Put(_ context.Context, taskID dap.TaskId, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[taskID] = cfg
	return nil
}

// List returns every task id currently stored.
func (s *MemConfigStore) List(_ context.Context) ([]dap.TaskId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]dap.TaskId, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	return ids, nil
}
