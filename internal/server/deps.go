package server

import (
	"dapaggregator/internal/aggregation"
	"dapaggregator/internal/auth"
	"dapaggregator/internal/collect"
	"dapaggregator/internal/hpke"
	"dapaggregator/internal/store"
	"dapaggregator/internal/task"
	"dapaggregator/internal/vdaf"
)

// Deps bundles the core components one aggregator process wires together.
// A deployment that only plays the Leader role leaves Helper nil; one that
// only plays Helper leaves Leader/Collect nil. Both may be set for a
// single-process demo deployment running both roles.
type Deps struct {
	Registry *task.Registry
	Tasks    task.ConfigStore

	Reports  *store.MemReportStore
	AggStore store.AggregateStore

	Authn *auth.Authenticator
	HPKE  interface {
		hpke.Receiver
		hpke.Sealer
	}
	VDAF vdaf.VDAF

	Leader  *aggregation.Leader  // nil if this process is not a Leader
	Helper  *aggregation.Helper  // nil if this process is not a Helper
	Collect *collect.Manager     // nil if this process is not a Leader

	Combine store.CombinePayload
}
