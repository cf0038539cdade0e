package aggregation

import (
	"context"
	"encoding/binary"
	"errors"

	"dapaggregator/internal/dap"
	"dapaggregator/internal/earlyreject"
	"dapaggregator/internal/hpke"
	"dapaggregator/internal/store"
	"dapaggregator/internal/task"
	"dapaggregator/internal/vdaf"
	"dapaggregator/pkg/logging"
)

// ReplayChecker resolves the inputs the Early-Reject Evaluator needs beyond
// what's in the request itself: whether a report id was already processed
// and whether its bucket is already collected.
type ReplayChecker interface {
	IsProcessed(ctx context.Context, version dap.Version, taskID dap.TaskId, ids []dap.ReportId) (map[dap.ReportId]bool, error)
	MarkProcessed(ctx context.Context, version dap.Version, taskID dap.TaskId, ids []dap.ReportId) error
	CheckCollected(ctx context.Context, version dap.Version, taskID dap.TaskId, bucketKey string) (bool, error)
}

// Helper runs the Helper side of the Aggregator State Machine (spec.md
// §4.4, "Helper flow").
type Helper struct {
	State    store.HelperStateStore
	Replay   ReplayChecker
	AggStore store.AggregateStore
	HPKE     hpke.Receiver
	VDAF     vdaf.VDAF
	Now      Clock
}

// HandleInit processes an AggJobInitReq. It is idempotent: replaying an
// identical request for an (task_id, agg_job_id) already on file returns
// the persisted response bytewise-unchanged (spec.md §4.4, "Idempotency").
func (h *Helper) HandleInit(ctx context.Context, cfg task.Config, req AggJobInitReq) (AggJobResp, error) {
	if existing, found, err := h.State.Get(ctx, cfg.Version, req.TaskID, req.AggJobID); err != nil {
		return AggJobResp{}, dap.WrapFatal("loading helper state", err)
	} else if found && existing.Round > 0 {
		return replayInitResponse(existing), nil
	}

	seen := make(map[dap.ReportId]bool, len(req.ReportShares))
	fails := make(map[dap.ReportId]dap.TransitionFailure)
	order := make([]dap.ReportId, 0, len(req.ReportShares))
	byID := make(map[dap.ReportId]ReportShare, len(req.ReportShares))

	for _, rs := range req.ReportShares {
		id := rs.Metadata.ID
		order = append(order, id)
		if seen[id] {
			// Only the first occurrence is processed; buildResponse answers
			// every later one with ReportReplayed.
			continue
		}
		seen[id] = true
		byID[id] = rs
	}

	ids := make([]dap.ReportId, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	processed, err := h.Replay.IsProcessed(ctx, cfg.Version, req.TaskID, ids)
	if err != nil {
		return AggJobResp{}, dap.WrapFatal("checking processed reports", err)
	}

	// current_time is computed once and shared across every report in this
	// job, not re-derived per report (spec.md §4.6; daphne_worker/src/dap.rs
	// check_early_reject).
	now := h.Now()
	min, max := cfg.ValidityWindow(now)
	taskExpired := cfg.Expired(now)

	byBucket := make(map[string][]dap.ReportId)
	for id, rs := range byID {
		if fails[id] != "" {
			continue
		}
		bucketKey := dap.BucketForTime(rs.Metadata.Time, cfg.TimePrecision).Key(cfg.Query.Type)
		byBucket[bucketKey] = append(byBucket[bucketKey], id)
	}
	for bucketKey, bucketIDs := range byBucket {
		collected, err := h.Replay.CheckCollected(ctx, cfg.Version, req.TaskID, bucketKey)
		if err != nil {
			return AggJobResp{}, dap.WrapFatal("checking bucket collected", err)
		}
		inputs := make([]earlyreject.Input, len(bucketIDs))
		for i, id := range bucketIDs {
			inputs[i] = earlyreject.Input{
				Metadata:    byID[id].Metadata,
				Processed:   processed[id],
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

	prepState := make(map[dap.ReportId][]byte)
	outbound := make(map[dap.ReportId][]byte)
	for id, rs := range byID {
		if fails[id] != "" {
			continue
		}

		plaintext, err := h.HPKE.Open(rs.InputShare, hpke.DomainString(cfg.Version), encodeAAD(rs.Metadata))
		if err != nil {
			fails[id] = transitionFailureFromErr(err, dap.TransitionHpkeDecryptError)
			continue
		}

		result, err := h.VDAF.InitHelper(req.TaskID, id, rs.PublicShare, plaintext, req.AggParam)
		if err != nil {
			return AggJobResp{}, dap.WrapFatal("vdaf init", err)
		}
		switch result.Outcome {
		case vdaf.StepFailed:
			fails[id] = dap.TransitionVdafPrepError
		case vdaf.StepFinished:
			if f, failed, err := h.finishReport(ctx, cfg, req.TaskID, rs.Metadata, result.Output); err != nil {
				return AggJobResp{}, err
			} else if failed {
				fails[id] = f
			}
		case vdaf.StepContinued:
			prepState[id] = result.State
			outbound[id] = result.Message
		}
	}

	if err := h.Replay.MarkProcessed(ctx, cfg.Version, req.TaskID, ids); err != nil {
		return AggJobResp{}, dap.WrapFatal("marking reports processed", err)
	}

	resp := buildResponse(order, fails, outbound)
	if len(prepState) > 0 {
		if err := h.State.Put(ctx, cfg.Version, req.TaskID, req.AggJobID, store.HelperState{
			PrepareState: prepState,
			Messages:     outbound,
			Failures:     fails,
			Order:        order,
			Round:        1,
		}); err != nil {
			return AggJobResp{}, dap.WrapFatal("persisting helper state", err)
		}
	}
	logging.Info("Helper", "processed init for job %s task %s: %d continuing, %d failed", req.AggJobID.Hex(), logging.TruncateID(req.TaskID.Hex()), len(prepState), len(fails))
	return resp, nil
}

// HandleContinue processes an AggJobContinueReq for a job HandleInit left
// in the Continued state for some reports.
func (h *Helper) HandleContinue(ctx context.Context, cfg task.Config, req AggJobContinueReq) (AggJobResp, error) {
	state, found, err := h.State.Get(ctx, cfg.Version, req.TaskID, req.AggJobID)
	if err != nil {
		return AggJobResp{}, dap.WrapFatal("loading helper state", err)
	}
	if !found {
		return AggJobResp{}, dap.NewAbortForTask(dap.AbortInvalidMessage, req.TaskID, "no continuation state for aggregation job")
	}

	inbound := make(map[dap.ReportId]Transition, len(req.Transitions))
	for _, t := range req.Transitions {
		inbound[t.ReportID] = t
	}

	// order walks the persisted init-request order (spec.md §4.4,
	// "responses must maintain the input order of the init request's
	// report_share list"), restricted to the reports still continuing after
	// the previous round — not a map range, which has no stable order.
	order := make([]dap.ReportId, 0, len(state.PrepareState))
	queued := make(map[dap.ReportId]bool, len(state.PrepareState))
	for _, id := range state.Order {
		if _, continuing := state.PrepareState[id]; continuing && !queued[id] {
			queued[id] = true
			order = append(order, id)
		}
	}

	fails := make(map[dap.ReportId]dap.TransitionFailure, len(state.Failures))
	for id, f := range state.Failures {
		fails[id] = f
	}
	nextPrepState := make(map[dap.ReportId][]byte)
	nextOutbound := make(map[dap.ReportId][]byte)

	for _, id := range order {
		prepared := state.PrepareState[id]
		t, present := inbound[id]
		if !present {
			fails[id] = dap.TransitionAbandonedPrep
			continue
		}
		result, err := h.VDAF.Step(req.TaskID, id, prepared, t.Message)
		if err != nil {
			return AggJobResp{}, dap.WrapFatal("vdaf step", err)
		}
		switch result.Outcome {
		case vdaf.StepFailed:
			fails[id] = dap.TransitionVdafPrepError
		case vdaf.StepFinished:
			if f, failed, err := h.finishReport(ctx, cfg, req.TaskID, dap.ReportMetadata{ID: id}, result.Output); err != nil {
				return AggJobResp{}, err
			} else if failed {
				fails[id] = f
			}
		case vdaf.StepContinued:
			nextPrepState[id] = result.State
			nextOutbound[id] = result.Message
		}
	}

	resp := AggJobResp{}
	for _, id := range order {
		resp.Transitions = append(resp.Transitions, transitionFor(id, fails, nextOutbound))
	}

	if len(nextPrepState) > 0 {
		state.PrepareState = nextPrepState
		state.Messages = nextOutbound
		state.Failures = fails
		state.Order = order
		state.Round++
		if err := h.State.Put(ctx, cfg.Version, req.TaskID, req.AggJobID, state); err != nil {
			return AggJobResp{}, dap.WrapFatal("persisting helper state", err)
		}
	} else {
		if err := h.State.Delete(ctx, cfg.Version, req.TaskID, req.AggJobID); err != nil {
			return AggJobResp{}, dap.WrapFatal("deleting helper state", err)
		}
	}
	return resp, nil
}

// finishReport merges a finished report's output share into the Aggregate
// Store. failed reports a TransitionFailure the caller should record
// instead of treating the report as Finished — e.g. if its bucket was
// collected in the window between early-rejection and this merge.
func (h *Helper) finishReport(ctx context.Context, cfg task.Config, taskID dap.TaskId, metadata dap.ReportMetadata, output []byte) (f dap.TransitionFailure, failed bool, err error) {
	bucket := dap.BucketForTime(metadata.Time, cfg.TimePrecision)
	delta := dap.AggregateShare{ReportCount: 1, Checksum: dap.ReportIDChecksum(metadata.ID), Payload: output}
	if err := h.AggStore.Merge(ctx, cfg.Version, taskID, bucket, bucket.Key(cfg.Query.Type), delta); err != nil {
		var te *dap.Transition
		if errors.As(err, &te) {
			return te.Failure, true, nil
		}
		return "", false, dap.WrapFatal("merging output share", err)
	}
	return "", false, nil
}

// replayInitResponse reconstructs the response to a repeated AggJobInitReq
// from persisted state, bytewise identical to what the first request
// received (spec.md §4.4, "Idempotency"): the outbound VDAF message for
// each still-continuing report, not the opaque continuation state itself,
// rebuilt in the persisted Order rather than map iteration order — two
// replays of the same request must produce byte-identical responses (spec.md
// §8, "re-sending an identical AggJobInitReq... yields a bytewise-identical
// AggJobResp").
func replayInitResponse(state store.HelperState) AggJobResp {
	return buildResponse(state.Order, state.Failures, state.Messages)
}

func buildResponse(order []dap.ReportId, fails map[dap.ReportId]dap.TransitionFailure, outbound map[dap.ReportId][]byte) AggJobResp {
	resp := AggJobResp{}
	seen := make(map[dap.ReportId]bool, len(order))
	for _, id := range order {
		if seen[id] {
			resp.Transitions = append(resp.Transitions, Transition{ReportID: id, Outcome: OutcomeFailed, Failure: dap.TransitionReportReplayed})
			continue
		}
		seen[id] = true
		resp.Transitions = append(resp.Transitions, transitionFor(id, fails, outbound))
	}
	return resp
}

// transitionFor builds the response entry for one report. outbound holds
// the VDAF's outbound prepare message, present iff the report is still
// continuing — never the opaque continuation state, which is persisted but
// never sent to the peer.
func transitionFor(id dap.ReportId, fails map[dap.ReportId]dap.TransitionFailure, outbound map[dap.ReportId][]byte) Transition {
	if f, failed := fails[id]; failed {
		return Transition{ReportID: id, Outcome: OutcomeFailed, Failure: f}
	}
	if msg, continuing := outbound[id]; continuing {
		return Transition{ReportID: id, Outcome: OutcomeContinued, Message: msg}
	}
	return Transition{ReportID: id, Outcome: OutcomeFinished}
}

func transitionFailureFromErr(err error, fallback dap.TransitionFailure) dap.TransitionFailure {
	var te *dap.Transition
	if errors.As(err, &te) {
		return te.Failure
	}
	return fallback
}

func isTransitionErr(err error) bool {
	var te *dap.Transition
	return errors.As(err, &te)
}

// encodeAAD renders the associated data HPKE decryption is bound to: the
// report's metadata (spec.md §4.4, "aad=metadata").
func encodeAAD(metadata dap.ReportMetadata) []byte {
	aad := make([]byte, len(metadata.ID), len(metadata.ID)+8)
	copy(aad, metadata.ID[:])
	var t [8]byte
	binary.BigEndian.PutUint64(t[:], metadata.Time)
	return append(aad, t[:]...)
}
