// Package vdaf defines the boundary the aggregator core consumes VDAF
// preparation through. VDAF itself — the actual secret-shared aggregation
// cryptography — is out of scope (spec.md §1): the core only ever calls
// through this interface and never inspects a prepare message's bytes.
package vdaf

import "dapaggregator/internal/dap"

// PrepareStep is the outcome of advancing one report's VDAF prepare state
// by one round.
type PrepareStep int

const (
	// StepContinued means another round of messages is needed; Message
	// carries the next outbound prepare message and State the opaque
	// continuation to pass back into Step next round.
	StepContinued PrepareStep = iota
	// StepFinished means the report's output share is ready.
	StepFinished
	// StepFailed means the VDAF itself rejected the report; the caller
	// records dap.TransitionVdafPrepError.
	StepFailed
)

// PrepareResult is the result of one VDAF.Step call.
type PrepareResult struct {
	Outcome PrepareStep
	State   []byte // opaque continuation, meaningful iff Outcome == StepContinued
	Message []byte // opaque outbound prepare message, meaningful iff Outcome == StepContinued
	Output  []byte // opaque output share, meaningful iff Outcome == StepFinished
}

// VDAF is the oracle the aggregation state machine drives. A production
// deployment backs it with the actual VDAF specified by the task (e.g.
// Prio3Count, Prio3Sum); this package provides only a toy double for tests.
type VDAF interface {
	// InitLeader begins the Leader's side of preparation for one report
	// given its public share, encrypted input share (already HPKE-decrypted
	// by the caller), and the task's aggregation parameter.
	InitLeader(taskID dap.TaskId, reportID dap.ReportId, publicShare, inputShare, aggParam []byte) (PrepareResult, error)

	// InitHelper is the Helper-side equivalent of InitLeader.
	InitHelper(taskID dap.TaskId, reportID dap.ReportId, publicShare, inputShare, aggParam []byte) (PrepareResult, error)

	// Step advances a continuation with an inbound prepare message from the
	// peer.
	Step(taskID dap.TaskId, reportID dap.ReportId, state, inboundMessage []byte) (PrepareResult, error)

	// Combine merges two output shares (or two partially-combined
	// aggregates) into one, the law internal/store's AggregateStore.Merge
	// delegates to for the payload half of the merge (the report count and
	// checksum halves are handled generically, spec.md §3).
	Combine(a, b []byte) []byte
}
