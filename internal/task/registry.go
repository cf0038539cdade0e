package task

import (
	"context"

	"golang.org/x/sync/singleflight"

	"dapaggregator/internal/auth"
	"dapaggregator/internal/dap"
	"dapaggregator/pkg/logging"
)

// ConfigStore is the durable store of materialized task configs, whether
// provisioned out-of-band by an operator or in-band via taskprov.
type ConfigStore interface {
	Get(ctx context.Context, taskID dap.TaskId) (Config, bool, error)
	Put(ctx context.Context, taskID dap.TaskId, cfg Config) error
}

// Lister is an optional ConfigStore capability for enumerating every
// stored task id, used by cmd/task.go's "task list". Both MemConfigStore
// and FileConfigStore implement it.
type Lister interface {
	List(ctx context.Context) ([]dap.TaskId, error)
}

// LeaderTokenStore is the subset of auth.TokenProvider the registry writes
// to when a taskprov task's leader bearer token needs to be persisted so
// that subsequent authorization lookups succeed (spec.md §4.3 step 6).
type LeaderTokenStore interface {
	SetLeaderToken(ctx context.Context, taskID dap.TaskId, token auth.BearerToken) error
}

// GlobalConfig is the subset of the aggregator's global configuration
// (spec.md §6, GlobalConfig) the registry needs.
type GlobalConfig struct {
	AllowTaskprov bool
	TaskprovVersion dap.Version
}

// TaskprovConfig is the aggregator's local taskprov configuration (spec.md
// §6, TaskprovConfig): the shared verify-key-init secret, the collector
// HPKE config taskprov tasks are bootstrapped with, and optionally the
// leader bearer token to persist for newly materialized tasks.
type TaskprovConfig struct {
	VdafVerifyKeyInit []byte
	CollectorHpke     []byte
	LeaderToken       auth.BearerToken // zero value: no token to persist
}

// PolicyHook is the opt-in decision point over a freshly reconstructed
// taskprov Config (spec.md §4.3 step 5). Returning allow=false rejects the
// task with AbortInvalidTask, with reason as the abort detail. The zero
// Registry always opts in.
type PolicyHook func(cfg Config) (reason string, allow bool)

// Registry resolves (version, task_id, optional first-report-metadata) to
// a Config, materializing and persisting provisional taskprov tasks the
// first time they're seen (spec.md §4.3).
type Registry struct {
	store    ConfigStore
	tokens   LeaderTokenStore
	global   GlobalConfig
	taskprov *TaskprovConfig // nil: taskprov disabled
	policy   PolicyHook

	// materialize dedupes concurrent first-sighting Resolve calls for the
	// same task id so a burst of reports for a brand-new taskprov task
	// only runs reconstruction and the store Put once.
	materialize singleflight.Group
}

// NewRegistry builds a Registry. taskprov may be nil to disable taskprov
// regardless of global.AllowTaskprov. policy may be nil to always opt in.
func NewRegistry(store ConfigStore, tokens LeaderTokenStore, global GlobalConfig, taskprov *TaskprovConfig, policy PolicyHook) *Registry {
	return &Registry{store: store, tokens: tokens, global: global, taskprov: taskprov, policy: policy}
}

// Resolve implements spec.md §4.3's six-step resolution. metadata is the
// first report's metadata, supplied only when resolution is happening in
// the context of an upload or aggregation-init request that might bear a
// taskprov extension; pass nil metadata for any other request kind.
func (r *Registry) Resolve(ctx context.Context, version dap.Version, taskID dap.TaskId, metadata *dap.ReportMetadata) (Config, error) {
	cfg, found, err := r.store.Get(ctx, taskID)
	if err != nil {
		return Config{}, dap.WrapFatal("looking up task config", err)
	}
	if found {
		return cfg, nil
	}
	if metadata == nil {
		return Config{}, dap.NewAbortForTask(dap.AbortInvalidTask, taskID, "task not found")
	}

	ext, ok := metadata.Extension(ExtensionTaskprov)
	if !ok {
		return Config{}, dap.NewAbortForTask(dap.AbortInvalidTask, taskID, "task not found")
	}

	if !r.global.AllowTaskprov || r.taskprov == nil {
		return Config{}, dap.NewAbortForTask(dap.AbortInvalidTask, taskID, "taskprov extension is disabled")
	}

	params, ok := ParseExtension(ext.Payload)
	if !ok {
		return Config{}, dap.NewAbortForTask(dap.AbortInvalidTask, taskID, "malformed taskprov extension")
	}

	result, err, _ := r.materialize.Do(taskID.Hex(), func() (any, error) {
		return r.materializeTaskprov(ctx, version, taskID, params)
	})
	if err != nil {
		return Config{}, err
	}
	return result.(Config), nil
}

// materializeTaskprov runs spec.md §4.3 steps 4-6: reconstruct, policy
// check, token/store persistence. Called at most once per task id even
// under concurrent Resolve calls, via r.materialize.
func (r *Registry) materializeTaskprov(ctx context.Context, version dap.Version, taskID dap.TaskId, params Params) (Config, error) {
	if cfg, found, err := r.store.Get(ctx, taskID); err != nil {
		return Config{}, dap.WrapFatal("looking up task config", err)
	} else if found {
		return cfg, nil
	}

	reconstructed, ok := Reconstruct(version, taskID, params, r.taskprov.VdafVerifyKeyInit, r.taskprov.CollectorHpke)
	if !ok {
		return Config{}, dap.NewAbortForTask(dap.AbortInvalidTask, taskID, "task id does not match taskprov extension")
	}

	if r.policy != nil {
		if reason, allow := r.policy(reconstructed); !allow {
			return Config{}, dap.NewAbortForTask(dap.AbortInvalidTask, taskID, reason)
		}
	}

	if !r.taskprov.LeaderToken.Empty() && r.tokens != nil {
		if err := r.tokens.SetLeaderToken(ctx, taskID, r.taskprov.LeaderToken); err != nil {
			return Config{}, dap.WrapFatal("persisting taskprov leader token", err)
		}
	}

	if err := r.store.Put(ctx, taskID, reconstructed); err != nil {
		return Config{}, dap.WrapFatal("persisting taskprov task config", err)
	}

	logging.Info("TaskRegistry", "materialized taskprov task %s", logging.TruncateID(taskID.Hex()))
	return reconstructed, nil
}
