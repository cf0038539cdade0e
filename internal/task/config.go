// Package task resolves a TaskId to its TaskConfig — from durable storage
// if already materialized, or by reconstructing and authenticating it from
// a report's taskprov extension if not (spec.md §4.3).
package task

import (
	"dapaggregator/internal/dap"
)

// VdafID identifies which VDAF a task uses. The core never interprets the
// payloads the VDAF produces; it only needs the identifier to resolve the
// right internal/vdaf.VDAF implementation.
type VdafID string

// Config is a task's full configuration, whether loaded from durable
// storage or reconstructed in-band via taskprov.
type Config struct {
	ID             dap.TaskId
	Version        dap.Version
	Vdaf           VdafID
	VdafVerifyKey  []byte
	Query          dap.QueryConfig
	TimePrecision  uint64 // seconds
	MinBatchSize   uint64
	Expiry         uint64 // unix seconds; 0 = no expiry
	CollectorHpke  []byte // opaque serialized HPKE config
	LeaderURL      string
	HelperURL      string

	// LifetimeWindow is how far back from now (in seconds) a report's time
	// may fall and still be accepted (spec.md §3, TaskConfig.lifetime_window;
	// §4.6, the "[min_time, max_time]" bound). 0 means no lower bound.
	LifetimeWindow uint64

	// Taskprov is set iff this Config was materialized via §4.3 step 3
	// rather than loaded from durable storage directly.
	Taskprov bool
}

// Expired reports whether the task's expiry has passed as of now (unix
// seconds).
func (c Config) Expired(now uint64) bool {
	return c.Expiry != 0 && now >= c.Expiry
}

// ValidityWindow returns the [min_time, max_time] bounds a report must fall
// within to survive the Early-Reject Evaluator (spec.md §4.6), derived from
// the task's time_precision and LifetimeWindow relative to now. now must be
// computed once by the caller and shared across every report in the same
// evaluation pass, not recomputed per report.
func (c Config) ValidityWindow(now uint64) (min, max uint64) {
	max = now + c.TimePrecision - (now % max64(c.TimePrecision, 1))
	if c.LifetimeWindow == 0 || c.LifetimeWindow >= now {
		min = 0
	} else {
		min = now - c.LifetimeWindow
	}
	return min, max
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
