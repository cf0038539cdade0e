package dap

import "fmt"

// TransitionFailure is a per-report terminal outcome within an aggregation
// job (spec.md §4.6, §7). It is never a request failure: it is recorded in
// the enclosing AggJobResp's transition for that report and the job
// otherwise proceeds.
type TransitionFailure string

const (
	TransitionReportReplayed     TransitionFailure = "report_replayed"
	TransitionBatchCollected     TransitionFailure = "batch_collected"
	TransitionReportTooEarly     TransitionFailure = "report_too_early"
	TransitionReportDropped      TransitionFailure = "report_dropped"
	TransitionTaskExpired        TransitionFailure = "task_expired"
	TransitionHpkeUnknownConfig  TransitionFailure = "hpke_unknown_config_id"
	TransitionHpkeDecryptError   TransitionFailure = "hpke_decrypt_error"
	TransitionVdafPrepError      TransitionFailure = "vdaf_prep_error"
	TransitionBatchSaturated     TransitionFailure = "batch_saturated"
	TransitionAbandonedPrep      TransitionFailure = "abandoned_prep"
)

// AbortType enumerates the DAP-specified client-visible protocol errors
// (spec.md §7). Each maps onto an HTTP status and a problem-document type
// URI at the HTTP-framing boundary, which is out of scope for the core.
type AbortType string

const (
	AbortUnauthorizedRequest AbortType = "unauthorizedRequest"
	AbortInvalidTask         AbortType = "invalidTask"
	AbortInvalidMessage      AbortType = "invalidMessage"
	AbortBatchMismatch       AbortType = "batchMismatch"
	AbortBatchInvalid        AbortType = "batchInvalid"
	AbortBatchOverlap        AbortType = "batchOverlap"
	AbortReportTooLate       AbortType = "reportTooLate"
	AbortStepMismatch        AbortType = "stepMismatch"
	AbortRoundMismatch       AbortType = "roundMismatch"
)

// Abort is a DAP-specified protocol error visible to the requesting peer.
type Abort struct {
	Type   AbortType
	TaskID *TaskId
	Detail string
}

func (e *Abort) Error() string {
	if e.TaskID != nil {
		return fmt.Sprintf("%s: %s (task %s)", e.Type, e.Detail, e.TaskID)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Detail)
}

// NewAbort builds an Abort of the given type with no task context.
func NewAbort(t AbortType, detail string) *Abort {
	return &Abort{Type: t, Detail: detail}
}

// NewAbortForTask builds an Abort of the given type scoped to a task.
func NewAbortForTask(t AbortType, taskID TaskId, detail string) *Abort {
	return &Abort{Type: t, TaskID: &taskID, Detail: detail}
}

// Transition wraps a TransitionFailure as an error so internal plumbing
// that threads per-report outcomes through ordinary Go error returns can
// use errors.As to recover the failure kind without a request failing.
type Transition struct {
	Failure TransitionFailure
}

func (e *Transition) Error() string {
	return "transition failure: " + string(e.Failure)
}

// NewTransitionError wraps a TransitionFailure as an error.
func NewTransitionError(f TransitionFailure) error {
	return &Transition{Failure: f}
}

// Fatal represents an internal invariant violation or unexpected storage
// error: the request this occurred within is surfaced as a 500-class
// response with opaque detail (spec.md §7); the wrapped error is logged in
// full by the caller, never forwarded to the peer.
type Fatal struct {
	msg string
	err error
}

func (e *Fatal) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Fatal) Unwrap() error { return e.err }

// NewFatal builds a Fatal error from a message.
func NewFatal(msg string) error {
	return &Fatal{msg: msg}
}

// WrapFatal builds a Fatal error wrapping an underlying cause.
func WrapFatal(msg string, err error) error {
	return &Fatal{msg: msg, err: err}
}
