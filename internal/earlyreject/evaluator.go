// Package earlyreject implements the per-report admission check every
// aggregation job runs before doing any VDAF work: replay, collection, and
// time-bound checks folded into a single pure function (spec.md §4.6).
package earlyreject

import "dapaggregator/internal/dap"

// Input is everything the evaluator needs to reach a verdict for one
// report. It carries no durable-actor handles itself: the caller resolves
// Processed/Collected/time bounds ahead of time so the evaluation stays a
// pure function, safe to run in parallel across an entire job's reports.
type Input struct {
	Metadata dap.ReportMetadata

	// Processed reports whether Metadata.ID already appears in the task's
	// ReportsProcessed record.
	Processed bool

	// Collected reports whether the bucket this report falls into has
	// already been marked collected in the Aggregate Store.
	Collected bool

	// TaskExpired reports whether the task's expiry has already passed.
	TaskExpired bool

	// MinTime and MaxTime bound the report timestamps this job will accept,
	// derived from the current time, the task's time_precision, and its
	// report lifetime window.
	MinTime uint64
	MaxTime uint64
}

// Evaluate returns the TransitionFailure that rejects the report, or ok=false
// if it survives early rejection. Checks are evaluated in the order spec.md
// §4.6 lists them; the first that applies wins.
func Evaluate(in Input) (dap.TransitionFailure, bool) {
	if in.Processed {
		return dap.TransitionReportReplayed, true
	}
	if in.Collected {
		return dap.TransitionBatchCollected, true
	}
	if in.Metadata.Time > in.MaxTime {
		return dap.TransitionReportTooEarly, true
	}
	if in.Metadata.Time < in.MinTime {
		return dap.TransitionReportDropped, true
	}
	if in.TaskExpired {
		return dap.TransitionTaskExpired, true
	}
	return "", false
}

// EvaluateAll evaluates a batch of reports sharing the same Collected and
// TaskExpired and time-bound context, varying only Metadata/Processed. It
// returns a map from ReportId to failure for every report that was
// rejected; surviving reports are simply absent, matching the early_fails
// map the Leader and Helper both thread through the rest of the job.
func EvaluateAll(reports []Input) map[dap.ReportId]dap.TransitionFailure {
	fails := make(map[dap.ReportId]dap.TransitionFailure)
	for _, in := range reports {
		if f, rejected := Evaluate(in); rejected {
			fails[in.Metadata.ID] = f
		}
	}
	return fails
}
