package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"dapaggregator/internal/dap"
	"dapaggregator/pkg/logging"
)

// taskYAML is Config's on-disk representation. Config itself stays the
// in-memory type every other package depends on; this is kept separate so
// changing the wire/storage encoding never ripples into call sites.
type taskYAML struct {
	Version        string `yaml:"version"`
	Vdaf           string `yaml:"vdaf"`
	VdafVerifyKey  []byte `yaml:"vdafVerifyKey"`
	QueryType      int    `yaml:"queryType"`
	MaxBatchSize   uint64 `yaml:"maxBatchSize,omitempty"`
	TimePrecision  uint64 `yaml:"timePrecision"`
	MinBatchSize   uint64 `yaml:"minBatchSize"`
	Expiry         uint64 `yaml:"expiry,omitempty"`
	LifetimeWindow uint64 `yaml:"lifetimeWindow,omitempty"`
	CollectorHpke  []byte `yaml:"collectorHpke,omitempty"`
	LeaderURL      string `yaml:"leaderUrl,omitempty"`
	HelperURL      string `yaml:"helperUrl,omitempty"`
	Taskprov       bool   `yaml:"taskprov,omitempty"`
}

func toYAML(cfg Config) taskYAML {
	return taskYAML{
		Version:        cfg.Version.String(),
		Vdaf:           string(cfg.Vdaf),
		VdafVerifyKey:  cfg.VdafVerifyKey,
		QueryType:      int(cfg.Query.Type),
		MaxBatchSize:   cfg.Query.MaxBatchSize,
		TimePrecision:  cfg.TimePrecision,
		MinBatchSize:   cfg.MinBatchSize,
		Expiry:         cfg.Expiry,
		LifetimeWindow: cfg.LifetimeWindow,
		CollectorHpke:  cfg.CollectorHpke,
		LeaderURL:      cfg.LeaderURL,
		HelperURL:      cfg.HelperURL,
		Taskprov:       cfg.Taskprov,
	}
}

func fromYAML(taskID dap.TaskId, y taskYAML) Config {
	var version dap.Version
	switch y.Version {
	case "v02":
		version = dap.VersionDraft02
	case "v04":
		version = dap.VersionDraft04
	}
	return Config{
		ID:             taskID,
		Version:        version,
		Vdaf:           VdafID(y.Vdaf),
		VdafVerifyKey:  y.VdafVerifyKey,
		Query:          dap.QueryConfig{Type: dap.QueryType(y.QueryType), MaxBatchSize: y.MaxBatchSize},
		TimePrecision:  y.TimePrecision,
		MinBatchSize:   y.MinBatchSize,
		Expiry:         y.Expiry,
		LifetimeWindow: y.LifetimeWindow,
		CollectorHpke:  y.CollectorHpke,
		LeaderURL:      y.LeaderURL,
		HelperURL:      y.HelperURL,
		Taskprov:       y.Taskprov,
	}
}

// FileConfigStore persists task configs as one YAML file per task under a
// configured directory, the same one-file-per-entity layout the rest of
// this codebase uses for durable local configuration.
type FileConfigStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileConfigStore builds a FileConfigStore rooted at dir, creating it if
// it doesn't already exist.
func NewFileConfigStore(dir string) (*FileConfigStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("task config directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create task config directory %s: %w", dir, err)
	}
	return &FileConfigStore{dir: dir}, nil
}

func (s *FileConfigStore) path(taskID dap.TaskId) string {
	return filepath.Join(s.dir, taskID.Hex()+".yaml")
}

func (s *FileConfigStore) Get(_ context.Context, taskID dap.TaskId) (Config, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("failed to read task config %s: %w", taskID.Hex(), err)
	}
	var y taskYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return Config{}, false, fmt.Errorf("failed to parse task config %s: %w", taskID.Hex(), err)
	}
	return fromYAML(taskID, y), true, nil
}

func (s *FileConfigStore) Put(_ context.Context, taskID dap.TaskId, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(toYAML(cfg))
	if err != nil {
		return fmt.Errorf("failed to serialize task config %s: %w", taskID.Hex(), err)
	}
	if err := os.WriteFile(s.path(taskID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write task config %s: %w", taskID.Hex(), err)
	}
	logging.Info("TaskRegistry", "persisted task config %s to %s", logging.TruncateID(taskID.Hex()), s.path(taskID))
	return nil
}

// List returns every task id with a config file in the store, used by
// cmd/task.go's "task list" to enumerate tasks without a separate index.
func (s *FileConfigStore) List(_ context.Context) ([]dap.TaskId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list task config directory %s: %w", s.dir, err)
	}
	var ids []dap.TaskId
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".yaml" {
			continue
		}
		id, err := dap.TaskIdFromHex(strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
