package vdaf

import "dapaggregator/internal/dap"

// ToyCount is a single-round, no-crypto stand-in for Prio3Count: each
// report's input share is a single byte, 0 or 1, and aggregation is a sum.
// It exists only so the rest of the core (which never branches on VDAF
// identity) has something concrete to drive in tests; it is not a real VDAF
// and makes no privacy claim whatsoever.
type ToyCount struct{}

func (ToyCount) InitLeader(_ dap.TaskId, _ dap.ReportId, _, inputShare, _ []byte) (PrepareResult, error) {
	return finishToyCount(inputShare)
}

func (ToyCount) InitHelper(_ dap.TaskId, _ dap.ReportId, _, inputShare, _ []byte) (PrepareResult, error) {
	return finishToyCount(inputShare)
}

func finishToyCount(inputShare []byte) (PrepareResult, error) {
	if len(inputShare) != 1 || inputShare[0] > 1 {
		return PrepareResult{Outcome: StepFailed}, nil
	}
	return PrepareResult{Outcome: StepFinished, Output: []byte{inputShare[0]}}, nil
}

// Step is never called for ToyCount: InitLeader/InitHelper always finish in
// one round, so the aggregation job never sends a continuation.
func (ToyCount) Step(_ dap.TaskId, _ dap.ReportId, _, _ []byte) (PrepareResult, error) {
	return PrepareResult{Outcome: StepFailed}, nil
}

func (ToyCount) Combine(a, b []byte) []byte {
	var sum byte
	if len(a) == 1 {
		sum += a[0]
	}
	if len(b) == 1 {
		sum += b[0]
	}
	return []byte{sum}
}
