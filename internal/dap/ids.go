package dap

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// TaskId is the 32-byte opaque identifier naming a task. Two TaskIds are
// equal iff bytewise equal; Equal is used wherever the equality check
// feeds an authorization or replay decision, so it always runs in constant
// time (spec.md §3, "Auth constant-time").
type TaskId [32]byte

// Equal reports whether id and other are bytewise identical, without
// leaking timing information about where they first differ.
func (id TaskId) Equal(other TaskId) bool {
	return subtle.ConstantTimeCompare(id[:], other[:]) == 1
}

// String renders the TaskId as base64url, the display form spec.md §3
// calls for.
func (id TaskId) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Hex renders the TaskId as lowercase hex, the form used for durable-actor
// names (spec.md §6).
func (id TaskId) Hex() string {
	return hex.EncodeToString(id[:])
}

// TaskIdFromHex parses a hex-encoded TaskId as stored in durable-actor
// names.
func TaskIdFromHex(s string) (TaskId, error) {
	var id TaskId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, errInvalidLength("TaskId", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ReportId is the 16-byte opaque identifier of a single report. It must be
// globally unique within a task; a duplicate is a replay (spec.md §3).
type ReportId [16]byte

func (id ReportId) Equal(other ReportId) bool {
	return subtle.ConstantTimeCompare(id[:], other[:]) == 1
}

func (id ReportId) Hex() string {
	return hex.EncodeToString(id[:])
}

func ReportIdFromHex(s string) (ReportId, error) {
	var id ReportId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, errInvalidLength("ReportId", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// BatchId is the 32-byte server-assigned identifier of a fixed-size batch
// (spec.md §3, BatchBucket for FixedSize).
type BatchId [32]byte

func (id BatchId) Hex() string { return hex.EncodeToString(id[:]) }

func BatchIdFromHex(s string) (BatchId, error) {
	var id BatchId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, errInvalidLength("BatchId", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// CollectionJobId is the 16-byte identifier of a collection job, returned
// to a Collector from put_collection (spec.md §4.7) and used to poll it.
type CollectionJobId [16]byte

func (id CollectionJobId) Hex() string { return hex.EncodeToString(id[:]) }

func (id CollectionJobId) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// AggregationJobId is the identifier of one aggregation job run between a
// Leader and a Helper (spec.md §4.4). Unlike TaskId/ReportId it is not a
// fixed-width wire type in every draft, so it is modeled as an opaque byte
// string rather than a fixed array.
type AggregationJobId []byte

func (id AggregationJobId) Hex() string { return hex.EncodeToString(id) }

func (id AggregationJobId) Equal(other AggregationJobId) bool {
	if len(id) != len(other) {
		return false
	}
	return subtle.ConstantTimeCompare(id, other) == 1
}

func errInvalidLength(kind string, want, got int) error {
	return fmt.Errorf("%s: expected %d bytes, got %d", kind, want, got)
}
