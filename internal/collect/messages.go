// Package collect implements the Leader Collection Flow (spec.md §4.7):
// accepting a Collector's batch query, driving an AggShareReq against the
// Helper in the background, and handing back an encrypted Collection once
// the job finishes.
package collect

import "dapaggregator/internal/dap"

// CollectReq is a Collector's put_collection request body.
type CollectReq struct {
	TaskID   dap.TaskId
	Selector dap.BatchSelector
	AggParam []byte
}

// Collection is the result handed back to a Collector once a job is Done:
// the aggregate share sealed to the Collector's HPKE config. PollCollection
// leaves ReportCount and Checksum zero.
type Collection struct {
	ReportCount       uint64
	Checksum          [32]byte
	EncryptedAggShare dap.HpkeCiphertext
}

// PollStatus is the three-way outcome of poll_collection (spec.md §4.7).
type PollStatus int

const (
	PollUnknown PollStatus = iota
	PollPending
	PollDone
)

// PollResult is the response to poll_collection.
type PollResult struct {
	Status PollStatus
	Result Collection // meaningful iff Status == PollDone
}
