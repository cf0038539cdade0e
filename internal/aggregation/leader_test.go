package aggregation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapaggregator/internal/dap"
	"dapaggregator/internal/hpke"
	"dapaggregator/internal/store"
	"dapaggregator/internal/task"
	"dapaggregator/internal/vdaf"
)

// inProcessHelper adapts a Helper to HelperClient for tests where Leader and
// Helper run in the same process, e.g. a single-aggregator development
// deployment rather than a two-party network setup.
type inProcessHelper struct{ h *Helper }

func (i inProcessHelper) AggregationJobInit(ctx context.Context, cfg task.Config, req AggJobInitReq) (AggJobResp, error) {
	return i.h.HandleInit(ctx, cfg, req)
}

func (i inProcessHelper) AggregationJobContinue(ctx context.Context, cfg task.Config, req AggJobContinueReq) (AggJobResp, error) {
	return i.h.HandleContinue(ctx, cfg, req)
}

// reportReplay adds CheckCollected to a MemReportStore so it satisfies
// ReplayChecker, answering from the given Aggregate Store.
type reportReplay struct {
	*store.MemReportStore
	aggStore store.AggregateStore
}

func (r reportReplay) CheckCollected(ctx context.Context, version dap.Version, taskID dap.TaskId, bucketKey string) (bool, error) {
	return r.aggStore.CheckCollected(ctx, version, taskID, bucketKey)
}

// newTestLeader gives the Leader and the Helper separate Aggregate Stores, as
// two aggregators would have; the returned store is the Leader's.
func newTestLeader(t *testing.T, cfg task.Config, leaderHPKE, helperHPKE hpke.Receiver, v vdaf.VDAF) (*Leader, *store.MemReportStore, store.AggregateStore) {
	t.Helper()
	reports := store.NewMemReportStore()
	aggStore := store.NewMemAggregateStore(v.Combine)
	helperAggStore := store.NewMemAggregateStore(v.Combine)
	helper := &Helper{
		State:    store.NewMemHelperStateStore(),
		Replay:   reportReplay{reports, helperAggStore},
		AggStore: helperAggStore,
		HPKE:     helperHPKE,
		VDAF:     v,
		Now:      func() uint64 { return cfg.TimePrecision * 10 },
	}
	leader := &Leader{
		Pending:  reports,
		Replay:   reportReplay{reports, aggStore},
		AggStore: aggStore,
		HPKE:     leaderHPKE,
		VDAF:     v,
		Helper:   inProcessHelper{helper},
		Now:      func() uint64 { return cfg.TimePrecision * 10 },
	}
	return leader, reports, aggStore
}

func uploadToyReport(t *testing.T, reports *store.MemReportStore, cfg task.Config, leaderHPKE, helperHPKE hpke.Sealer, id dap.ReportId, value byte, when uint64) {
	t.Helper()
	leaderCT, err := leaderHPKE.Seal(nil, []byte{value}, nil, nil)
	require.NoError(t, err)
	helperCT, err := helperHPKE.Seal(nil, []byte{value}, nil, nil)
	require.NoError(t, err)
	r := dap.Report{
		Metadata:             dap.ReportMetadata{ID: id, Time: when},
		EncryptedInputShares: [2]dap.HpkeCiphertext{leaderCT, helperCT},
	}
	require.NoError(t, reports.Put(context.Background(), cfg.Version, cfg.ID, r))
}

func TestLeader_RunJob_MergesFinishedReports(t *testing.T) {
	cfg := testConfig()
	leaderHPKE := hpke.NewTestDouble(0)
	helperHPKE := hpke.NewTestDouble(0)
	leader, reports, aggStore := newTestLeader(t, cfg, leaderHPKE, helperHPKE, vdaf.ToyCount{})

	when := cfg.TimePrecision * 10
	uploadToyReport(t, reports, cfg, leaderHPKE, helperHPKE, dap.ReportId{1}, 1, when)
	uploadToyReport(t, reports, cfg, leaderHPKE, helperHPKE, dap.ReportId{2}, 1, when)

	finished, err := leader.RunJob(context.Background(), cfg, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, finished)

	bucket := dap.BucketForTime(when, cfg.TimePrecision)
	share, err := aggStore.Get(context.Background(), cfg.Version, cfg.ID, bucket.Key(cfg.Query.Type))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), share.ReportCount)
	assert.Equal(t, []byte{2}, share.Payload)
}

func TestLeader_RunJob_NoPendingReportsIsNoOp(t *testing.T) {
	cfg := testConfig()
	leaderHPKE := hpke.NewTestDouble(0)
	leader, _, _ := newTestLeader(t, cfg, leaderHPKE, hpke.NewTestDouble(0), vdaf.ToyCount{})

	finished, err := leader.RunJob(context.Background(), cfg, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, finished)
}

func TestLeader_RunJob_EarlyRejectsExpiredTask(t *testing.T) {
	cfg := testConfig()
	cfg.Expiry = 1 // already expired relative to the fixed test clock
	leaderHPKE := hpke.NewTestDouble(0)
	helperHPKE := hpke.NewTestDouble(0)
	leader, reports, aggStore := newTestLeader(t, cfg, leaderHPKE, helperHPKE, vdaf.ToyCount{})

	when := cfg.TimePrecision * 10
	uploadToyReport(t, reports, cfg, leaderHPKE, helperHPKE, dap.ReportId{1}, 1, when)

	finished, err := leader.RunJob(context.Background(), cfg, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, finished)

	bucket := dap.BucketForTime(when, cfg.TimePrecision)
	share, err := aggStore.Get(context.Background(), cfg.Version, cfg.ID, bucket.Key(cfg.Query.Type))
	require.NoError(t, err)
	assert.True(t, share.Empty())
}

func TestLeader_RunJob_FixedSizeAssignsBatch(t *testing.T) {
	cfg := testConfig()
	cfg.Query = dap.QueryConfig{Type: dap.QueryFixedSize, MaxBatchSize: 2}
	leaderHPKE := hpke.NewTestDouble(0)
	helperHPKE := hpke.NewTestDouble(0)
	leader, reports, _ := newTestLeader(t, cfg, leaderHPKE, helperHPKE, vdaf.ToyCount{})
	leader.BatchQueue = store.NewMemLeaderBatchQueue()

	when := cfg.TimePrecision * 10
	uploadToyReport(t, reports, cfg, leaderHPKE, helperHPKE, dap.ReportId{1}, 1, when)

	finished, err := leader.RunJob(context.Background(), cfg, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, finished)

	_, full, err := leader.BatchQueue.CurrentBatch(context.Background(), cfg.ID, cfg.Query.MaxBatchSize)
	require.NoError(t, err)
	assert.False(t, full, "batch of 1 report is not yet full against max_batch_size 2")
}

func TestLeader_RunJob_MarksReportsProcessed(t *testing.T) {
	cfg := testConfig()
	leaderHPKE := hpke.NewTestDouble(0)
	helperHPKE := hpke.NewTestDouble(0)
	leader, reports, _ := newTestLeader(t, cfg, leaderHPKE, helperHPKE, vdaf.ToyCount{})

	when := cfg.TimePrecision * 10
	id := dap.ReportId{5}
	uploadToyReport(t, reports, cfg, leaderHPKE, helperHPKE, id, 1, when)

	_, err := leader.RunJob(context.Background(), cfg, 10)
	require.NoError(t, err)

	processed, err := reports.IsProcessed(context.Background(), cfg.Version, cfg.ID, []dap.ReportId{id})
	require.NoError(t, err)
	assert.True(t, processed[id])
}
