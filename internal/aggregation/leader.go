package aggregation

import (
	"context"

	"github.com/google/uuid"

	"dapaggregator/internal/dap"
	"dapaggregator/internal/earlyreject"
	"dapaggregator/internal/hpke"
	"dapaggregator/internal/store"
	"dapaggregator/internal/task"
	"dapaggregator/internal/vdaf"
	"dapaggregator/pkg/logging"
)

// HelperClient is the Leader's view of its peer Helper: the two messages an
// aggregation job exchanges (spec.md §4.4). A same-process deployment can
// implement this by calling a Helper value's HandleInit/HandleContinue
// directly; a networked one over the media types in internal/codec.
type HelperClient interface {
	AggregationJobInit(ctx context.Context, cfg task.Config, req AggJobInitReq) (AggJobResp, error)
	AggregationJobContinue(ctx context.Context, cfg task.Config, req AggJobContinueReq) (AggJobResp, error)
}

// Clock reports the current time as unix seconds. Tests supply a fixed
// value; production wiring passes time.Now().Unix().
type Clock func() uint64

// leaderReport is one report pulled from the Report Store together with its
// Leader-side VDAF state for the job in progress.
type leaderReport struct {
	metadata    dap.ReportMetadata
	publicShare []byte
	helperCT    dap.HpkeCiphertext
	state       []byte // meaningful while still continuing
	output      []byte // meaningful once finished
}

// Leader runs the Leader side of the Aggregator State Machine (spec.md
// §4.4, "Leader flow for a job"): pulling pending reports, driving an
// aggregation job against a Helper to completion, and merging the results
// into the Aggregate Store.
type Leader struct {
	Pending    store.PendingStore
	Replay     ReplayChecker
	AggStore   store.AggregateStore
	BatchQueue store.LeaderBatchQueue // nil for time-interval-only tasks
	HPKE       hpke.Receiver
	VDAF       vdaf.VDAF
	Helper     HelperClient
	Now        Clock
}

// RunJob pulls up to n pending reports for the task and drives one
// aggregation job to completion against the Helper. It returns the number
// of reports that finished successfully.
func (l *Leader) RunJob(ctx context.Context, cfg task.Config, n int) (int, error) {
	reports, err := l.Pending.Pull(ctx, cfg.Version, cfg.ID, n)
	if err != nil {
		return 0, dap.WrapFatal("pulling pending reports", err)
	}
	if len(reports) == 0 {
		return 0, nil
	}

	partBatchSel, err := l.partialBatchSelector(ctx, cfg, reports)
	if err != nil {
		return 0, err
	}

	live, order, fails, err := l.prepareShares(ctx, cfg, reports)
	if err != nil {
		return 0, err
	}

	aggJobID := dap.AggregationJobId(uuid.New().NodeID())
	req := AggJobInitReq{TaskID: cfg.ID, AggJobID: aggJobID, PartBatchSel: partBatchSel}
	for _, id := range order {
		lr := live[id]
		req.ReportShares = append(req.ReportShares, ReportShare{Metadata: lr.metadata, PublicShare: lr.publicShare, InputShare: lr.helperCT})
	}

	resp, err := l.Helper.AggregationJobInit(ctx, cfg, req)
	if err != nil {
		return 0, err
	}

	finished, err := l.advance(ctx, cfg, aggJobID, live, fails, resp)
	if err != nil {
		return finished, err
	}

	if err := l.Replay.MarkProcessed(ctx, cfg.Version, cfg.ID, idsOf(reports)); err != nil {
		return finished, dap.WrapFatal("marking reports processed", err)
	}

	logging.Info("Leader", "finished aggregation job %s for task %s: %d finished, %d failed", aggJobID.Hex(), logging.TruncateID(cfg.ID.Hex()), finished, len(fails))
	return finished, nil
}

// advance drives live reports through as many rounds as the Helper's
// responses call for, merging every finished output share into the
// Aggregate Store as it goes (spec.md §4.4 steps 4-6).
func (l *Leader) advance(ctx context.Context, cfg task.Config, aggJobID dap.AggregationJobId, live map[dap.ReportId]*leaderReport, fails map[dap.ReportId]dap.TransitionFailure, resp AggJobResp) (int, error) {
	finished := 0
	round := resp.Transitions
	for len(round) > 0 {
		var outbound []Transition
		for _, t := range round {
			lr, ok := live[t.ReportID]
			if !ok {
				continue
			}
			switch t.Outcome {
			case OutcomeFailed:
				fails[t.ReportID] = t.Failure
				delete(live, t.ReportID)
			case OutcomeFinished:
				if err := l.mergeOutput(ctx, cfg, lr); err != nil {
					if isTransitionErr(err) {
						fails[t.ReportID] = transitionFailureFromErr(err, dap.TransitionBatchCollected)
					} else {
						return finished, err
					}
				} else {
					finished++
				}
				delete(live, t.ReportID)
			case OutcomeContinued:
				result, err := l.VDAF.Step(cfg.ID, t.ReportID, lr.state, t.Message)
				if err != nil {
					return finished, dap.WrapFatal("leader vdaf step", err)
				}
				switch result.Outcome {
				case vdaf.StepFailed:
					fails[t.ReportID] = dap.TransitionVdafPrepError
					delete(live, t.ReportID)
				case vdaf.StepFinished:
					lr.output = result.Output
					if err := l.mergeOutput(ctx, cfg, lr); err != nil {
						if isTransitionErr(err) {
							fails[t.ReportID] = transitionFailureFromErr(err, dap.TransitionBatchCollected)
						} else {
							return finished, err
						}
					} else {
						finished++
					}
					delete(live, t.ReportID)
				case vdaf.StepContinued:
					lr.state = result.State
					outbound = append(outbound, Transition{ReportID: t.ReportID, Outcome: OutcomeContinued, Message: result.Message})
				}
			}
		}
		if len(outbound) == 0 {
			break
		}
		next, err := l.Helper.AggregationJobContinue(ctx, cfg, AggJobContinueReq{TaskID: cfg.ID, AggJobID: aggJobID, Transitions: outbound})
		if err != nil {
			return finished, err
		}
		round = next.Transitions
	}
	return finished, nil
}

// prepareShares runs the Early-Reject Evaluator locally (spec.md §4.4 step
// 2), HPKE-decrypts each surviving report's Leader input share, and starts
// the Leader's own VDAF preparation.
func (l *Leader) prepareShares(ctx context.Context, cfg task.Config, reports []dap.Report) (map[dap.ReportId]*leaderReport, []dap.ReportId, map[dap.ReportId]dap.TransitionFailure, error) {
	ids := idsOf(reports)
	processed, err := l.Replay.IsProcessed(ctx, cfg.Version, cfg.ID, ids)
	if err != nil {
		return nil, nil, nil, dap.WrapFatal("checking processed reports", err)
	}

	// current_time is computed once and shared across every report in this
	// job, not re-derived per report (spec.md §4.6; daphne_worker/src/dap.rs
	// check_early_reject).
	now := l.Now()
	min, max := cfg.ValidityWindow(now)
	taskExpired := cfg.Expired(now)

	byBucket := make(map[string][]dap.Report)
	for _, r := range reports {
		bucketKey := dap.BucketForTime(r.Metadata.Time, cfg.TimePrecision).Key(cfg.Query.Type)
		byBucket[bucketKey] = append(byBucket[bucketKey], r)
	}
	fails := make(map[dap.ReportId]dap.TransitionFailure)
	for bucketKey, bucketReports := range byBucket {
		collected, err := l.AggStore.CheckCollected(ctx, cfg.Version, cfg.ID, bucketKey)
		if err != nil {
			return nil, nil, nil, dap.WrapFatal("checking bucket collected", err)
		}
		inputs := make([]earlyreject.Input, len(bucketReports))
		for i, r := range bucketReports {
			inputs[i] = earlyreject.Input{
				Metadata:    r.Metadata,
				Processed:   processed[r.Metadata.ID],
				Collected:   collected,
				TaskExpired: taskExpired,
				MinTime:     min,
				MaxTime:     max,
			}
		}
		for id, failure := range earlyreject.EvaluateAll(inputs) {
			fails[id] = failure
		}
	}

	live := make(map[dap.ReportId]*leaderReport)
	order := make([]dap.ReportId, 0, len(reports))
	for _, r := range reports {
		if _, rejected := fails[r.Metadata.ID]; rejected {
			continue
		}

		plaintext, err := l.HPKE.Open(r.EncryptedInputShares[0], hpke.DomainString(cfg.Version), encodeAAD(r.Metadata))
		if err != nil {
			fails[r.Metadata.ID] = transitionFailureFromErr(err, dap.TransitionHpkeDecryptError)
			continue
		}

		result, err := l.VDAF.InitLeader(cfg.ID, r.Metadata.ID, r.PublicShare, plaintext, nil)
		if err != nil {
			return nil, nil, nil, dap.WrapFatal("leader vdaf init", err)
		}
		lr := &leaderReport{metadata: r.Metadata, publicShare: r.PublicShare, helperCT: r.EncryptedInputShares[1]}
		switch result.Outcome {
		case vdaf.StepFailed:
			fails[r.Metadata.ID] = dap.TransitionVdafPrepError
			continue
		case vdaf.StepFinished:
			lr.output = result.Output
		case vdaf.StepContinued:
			lr.state = result.State
		}
		live[r.Metadata.ID] = lr
		order = append(order, r.Metadata.ID)
	}
	return live, order, fails, nil
}

// partialBatchSelector assigns the reports pulled for this job to a batch
// (fixed-size tasks only; time-interval tasks carry no batch identity at
// this point, spec.md §4.4's AggJobInitReq.part_batch_sel).
func (l *Leader) partialBatchSelector(ctx context.Context, cfg task.Config, reports []dap.Report) (dap.PartialBatchSelector, error) {
	if cfg.Query.Type != dap.QueryFixedSize || l.BatchQueue == nil || len(reports) == 0 {
		return dap.PartialBatchSelector{Type: cfg.Query.Type}, nil
	}
	batchID, err := l.BatchQueue.Assign(ctx, cfg.ID, cfg.MinBatchSize, cfg.Query.MaxBatchSize)
	if err != nil {
		return dap.PartialBatchSelector{}, dap.WrapFatal("assigning batch", err)
	}
	return dap.PartialBatchSelector{Type: dap.QueryFixedSize, BatchID: batchID}, nil
}

// mergeOutput folds one finished report's Leader output share into the
// Aggregate Store (spec.md §4.4 step 6). A *dap.Transition error (bucket
// already collected) is returned unwrapped so the caller can record it as
// that report's TransitionFailure instead of failing the whole job.
func (l *Leader) mergeOutput(ctx context.Context, cfg task.Config, lr *leaderReport) error {
	bucket := dap.BucketForTime(lr.metadata.Time, cfg.TimePrecision)
	delta := dap.AggregateShare{ReportCount: 1, Checksum: dap.ReportIDChecksum(lr.metadata.ID), Payload: lr.output}
	if err := l.AggStore.Merge(ctx, cfg.Version, cfg.ID, bucket, bucket.Key(cfg.Query.Type), delta); err != nil {
		if isTransitionErr(err) {
			return err
		}
		return dap.WrapFatal("merging leader output share", err)
	}
	return nil
}

func idsOf(reports []dap.Report) []dap.ReportId {
	ids := make([]dap.ReportId, len(reports))
	for i, r := range reports {
		ids[i] = r.Metadata.ID
	}
	return ids
}
