// Package aggregation implements the Aggregator State Machine (spec.md
// §4.4): the Leader and Helper sides of one aggregation job's init/continue
// message sequence, and the merge of its output shares into the Aggregate
// Store.
package aggregation

import "dapaggregator/internal/dap"

// ReportShare is one report as carried in an AggJobInitReq: the Helper's
// half of the report plus enough metadata to run the Early-Reject
// Evaluator and VDAF preparation against it.
type ReportShare struct {
	Metadata    dap.ReportMetadata
	PublicShare []byte
	InputShare  dap.HpkeCiphertext
}

// AggJobInitReq is the Leader's first-round message to a Helper (spec.md
// §4.4).
type AggJobInitReq struct {
	TaskID       dap.TaskId
	AggJobID     dap.AggregationJobId
	PartBatchSel dap.PartialBatchSelector
	AggParam     []byte
	ReportShares []ReportShare
}

// Outcome is the per-report result of one round of preparation.
type Outcome int

const (
	OutcomeContinued Outcome = iota
	OutcomeFinished
	OutcomeFailed
)

// Transition is one report's result within an AggJobResp or the inbound
// half of an AggJobContinueReq.
type Transition struct {
	ReportID dap.ReportId
	Outcome  Outcome
	Message  []byte               // meaningful iff Outcome == OutcomeContinued
	Failure  dap.TransitionFailure // meaningful iff Outcome == OutcomeFailed
}

// AggJobResp is a Helper's response to an AggJobInitReq or AggJobContinueReq.
// Transitions preserve the input report_share order (spec.md §4.4,
// "Ordering and tie-breaks").
type AggJobResp struct {
	Transitions []Transition
}

// AggJobContinueReq is the Leader's subsequent-round message to a Helper: one
// inbound VDAF message per report still continuing.
type AggJobContinueReq struct {
	TaskID       dap.TaskId
	AggJobID     dap.AggregationJobId
	Transitions  []Transition // Outcome/Message only; Continued entries carry the Leader's outbound message
}
