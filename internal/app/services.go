package app

import (
	"context"
	"fmt"
	"time"

	"dapaggregator/internal/aggregation"
	"dapaggregator/internal/auth"
	"dapaggregator/internal/collect"
	"dapaggregator/internal/dap"
	"dapaggregator/internal/hpke"
	"dapaggregator/internal/server"
	"dapaggregator/internal/store"
	"dapaggregator/internal/task"
	"dapaggregator/internal/vdaf"
)

// Role is which side(s) of the protocol this process plays (spec.md §2:
// "A deployment always has exactly two aggregators, Leader and Helper").
type Role int

const (
	RoleBoth Role = iota
	RoleLeader
	RoleHelper
)

func unixNow() uint64 {
	return uint64(time.Now().Unix())
}

func parseRole(s string) (Role, error) {
	switch s {
	case "", "both":
		return RoleBoth, nil
	case "leader":
		return RoleLeader, nil
	case "helper":
		return RoleHelper, nil
	default:
		return 0, fmt.Errorf("unknown server role %q (want leader, helper, or both)", s)
	}
}

// replayChecker combines the Report Store's processed-id tracking with the
// Aggregate Store's collected-bucket flag into the single ReplayChecker the
// Leader and Helper state machines consult (spec.md §4.6).
type replayChecker struct {
	reports  *store.MemReportStore
	aggStore store.AggregateStore
}

func (r replayChecker) IsProcessed(ctx context.Context, version dap.Version, taskID dap.TaskId, ids []dap.ReportId) (map[dap.ReportId]bool, error) {
	return r.reports.IsProcessed(ctx, version, taskID, ids)
}

func (r replayChecker) MarkProcessed(ctx context.Context, version dap.Version, taskID dap.TaskId, ids []dap.ReportId) error {
	return r.reports.MarkProcessed(ctx, version, taskID, ids)
}

func (r replayChecker) CheckCollected(ctx context.Context, version dap.Version, taskID dap.TaskId, bucketKey string) (bool, error) {
	return r.aggStore.CheckCollected(ctx, version, taskID, bucketKey)
}

// Services holds every core component one aggregator process wires
// together, built once at startup from the loaded configuration. The
// pieces that can run standalone (the HTTP server, the collection
// finisher) are exposed directly so modes.go can drive them.
type Services struct {
	Registry    *task.Registry
	Tasks       task.ConfigStore
	Tokens      *task.MemTokenStore
	Reports     *store.MemReportStore
	AggStore    store.AggregateStore
	HelperState store.HelperStateStore
	CollectJobs store.LeaderCollectionJobQueue
	BatchQueue  store.LeaderBatchQueue

	HTTP       *server.Server
	CollectMgr *collect.Manager

	Role         Role
	ListenAddr   string
	PollInterval int
}

// InitializeServices builds every component an aggregator process needs
// from the loaded configuration: the task registry and stores, the
// HPKE/VDAF test-double oracles (the Open Questions in DESIGN.md decide no
// real cryptography ships), the Leader/Helper state machines, and the HTTP
// server wrapping them.
func InitializeServices(cfg *Config) (*Services, error) {
	loaded := cfg.Loaded
	if loaded == nil {
		return nil, fmt.Errorf("InitializeServices: no configuration loaded")
	}

	role, err := parseRole(loaded.Server.Role)
	if err != nil {
		return nil, err
	}

	var taskprovCfg *task.TaskprovConfig
	taskprovLeaderToken := auth.BearerToken{}
	if tp, ok := loaded.TaskprovConfig(); ok {
		taskprovCfg = &tp
		taskprovLeaderToken = tp.LeaderToken
	}

	tokens := task.NewMemTokenStore(taskprovLeaderToken, auth.BearerToken{})

	var tasks task.ConfigStore
	if loaded.Server.TaskStoreDir != "" {
		fileStore, err := task.NewFileConfigStore(loaded.Server.TaskStoreDir)
		if err != nil {
			return nil, fmt.Errorf("initializing task config store: %w", err)
		}
		tasks = fileStore
	} else {
		tasks = task.NewMemConfigStore()
	}

	registry := task.NewRegistry(tasks, tokens, loaded.GlobalConfig(), taskprovCfg, nil)

	reports := store.NewMemReportStore()
	oracle := vdaf.ToyCount{}
	aggStore := store.NewMemAggregateStore(oracle.Combine)
	helperState := store.NewMemHelperStateStore()
	collectJobs := store.NewMemLeaderCollectionJobQueue()
	batchQueue := store.NewMemLeaderBatchQueue()
	replay := replayChecker{reports: reports, aggStore: aggStore}

	hpkeDouble := hpke.NewTestDouble(1)
	authn := auth.NewAuthenticator(tokens, nil)

	deps := &server.Deps{
		Registry: registry,
		Tasks:    tasks,
		Reports:  reports,
		AggStore: aggStore,
		Authn:    authn,
		HPKE:     hpkeDouble,
		VDAF:     oracle,
		Combine:  oracle.Combine,
	}

	var collectMgr *collect.Manager

	if role != RoleHelper {
		helperClient := server.NewHelperClient(tokens, nil)
		deps.Leader = &aggregation.Leader{
			Pending:    reports,
			Replay:     replay,
			AggStore:   aggStore,
			BatchQueue: batchQueue,
			HPKE:       hpkeDouble,
			VDAF:       oracle,
			Helper:     helperClient,
			Now:        unixNow,
		}
		collectMgr = &collect.Manager{
			Jobs:       collectJobs,
			AggStore:   aggStore,
			BatchQueue: batchQueue,
			Tasks:      tasks,
			Helper:     helperClient,
			Collector:  hpkeDouble,
			Combine:    oracle.Combine,
		}
		deps.Collect = collectMgr
	}

	if role != RoleLeader {
		deps.Helper = &aggregation.Helper{
			State:    helperState,
			Replay:   replay,
			AggStore: aggStore,
			HPKE:     hpkeDouble,
			VDAF:     oracle,
			Now:      unixNow,
		}
	}

	pollInterval := loaded.Server.CollectPollSeconds
	if pollInterval <= 0 {
		pollInterval = 10
	}

	return &Services{
		Registry:     registry,
		Tasks:        tasks,
		Tokens:       tokens,
		Reports:      reports,
		AggStore:     aggStore,
		HelperState:  helperState,
		CollectJobs:  collectJobs,
		BatchQueue:   batchQueue,
		HTTP:         server.New(deps),
		CollectMgr:   collectMgr,
		Role:         role,
		ListenAddr:   loaded.Server.ListenAddr,
		PollInterval: pollInterval,
	}, nil
}
