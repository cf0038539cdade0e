package task

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"

	"dapaggregator/internal/dap"
)

// ExtensionTaskprov is the report extension type carrying an in-band task
// provisioning payload (spec.md §4.3).
const ExtensionTaskprov uint16 = 0xff00

// Params is the deterministic encoding of a taskprov-provisioned task's
// parameters plus the aggregator-URL tuple, carried in the taskprov
// extension payload.
type Params struct {
	Vdaf           VdafID
	Query          dap.QueryConfig
	TimePrecision  uint64
	MinBatchSize   uint64
	Expiry         uint64
	LifetimeWindow uint64
	LeaderURL      string
	HelperURL      string
}

// canonicalBytes renders Params in a fixed, order-independent encoding so
// that DeriveTaskID is deterministic in (version, params) as spec.md §8
// requires ("Taskprov task resolution is deterministic").
func (p Params) canonicalBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(string(p.Vdaf))
	buf.WriteByte(0)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(p.Query.Type))
	buf.Write(n[:])
	binary.BigEndian.PutUint64(n[:], p.Query.MaxBatchSize)
	buf.Write(n[:])
	binary.BigEndian.PutUint64(n[:], p.TimePrecision)
	buf.Write(n[:])
	binary.BigEndian.PutUint64(n[:], p.MinBatchSize)
	buf.Write(n[:])
	binary.BigEndian.PutUint64(n[:], p.Expiry)
	buf.Write(n[:])
	binary.BigEndian.PutUint64(n[:], p.LifetimeWindow)
	buf.Write(n[:])
	buf.WriteString(p.LeaderURL)
	buf.WriteByte(0)
	buf.WriteString(p.HelperURL)
	return buf.Bytes()
}

// ParseExtension decodes a taskprov extension payload. The wire encoding
// itself is out of scope for the core (each draft defines its own TLS
// syntax for it); this implementation's Encode/ParseExtension pair only
// needs to round-trip and be deterministic, which is all the core's
// invariants depend on.
func ParseExtension(payload []byte) (Params, bool) {
	// The 48-byte numeric block may itself contain zero bytes, so it is
	// sliced by position rather than split on the separator.
	vdafEnd := bytes.IndexByte(payload, 0)
	if vdafEnd < 0 || len(payload) < vdafEnd+1+48+1 || payload[vdafEnd+1+48] != 0 {
		return Params{}, false
	}
	n := payload[vdafEnd+1 : vdafEnd+1+48]
	urls := bytes.SplitN(payload[vdafEnd+1+48+1:], []byte{0}, 2)
	if len(urls) != 2 {
		return Params{}, false
	}
	return Params{
		Vdaf:           VdafID(payload[:vdafEnd]),
		Query:          dap.QueryConfig{Type: dap.QueryType(binary.BigEndian.Uint64(n[0:8])), MaxBatchSize: binary.BigEndian.Uint64(n[8:16])},
		TimePrecision:  binary.BigEndian.Uint64(n[16:24]),
		MinBatchSize:   binary.BigEndian.Uint64(n[24:32]),
		Expiry:         binary.BigEndian.Uint64(n[32:40]),
		LifetimeWindow: binary.BigEndian.Uint64(n[40:48]),
		LeaderURL:      string(urls[0]),
		HelperURL:      string(urls[1]),
	}, true
}

// Encode renders Params as a taskprov extension payload that ParseExtension
// can decode. Exists mainly so tests can construct a well-formed extension
// without hand-building the byte layout.
func Encode(p Params) []byte {
	var n [48]byte
	binary.BigEndian.PutUint64(n[0:8], uint64(p.Query.Type))
	binary.BigEndian.PutUint64(n[8:16], p.Query.MaxBatchSize)
	binary.BigEndian.PutUint64(n[16:24], p.TimePrecision)
	binary.BigEndian.PutUint64(n[24:32], p.MinBatchSize)
	binary.BigEndian.PutUint64(n[32:40], p.Expiry)
	binary.BigEndian.PutUint64(n[40:48], p.LifetimeWindow)

	var buf bytes.Buffer
	buf.WriteString(string(p.Vdaf))
	buf.WriteByte(0)
	buf.Write(n[:])
	buf.WriteByte(0)
	buf.WriteString(p.LeaderURL)
	buf.WriteByte(0)
	buf.WriteString(p.HelperURL)
	return buf.Bytes()
}

// DeriveTaskID computes the TaskId a well-formed taskprov payload must
// produce under the given version, the binding that authenticates in-band
// provisioning (spec.md §4.3 step 4).
func DeriveTaskID(version dap.Version, p Params) dap.TaskId {
	h := sha256.New()
	h.Write([]byte{byte(version)})
	h.Write(p.canonicalBytes())
	var id dap.TaskId
	copy(id[:], h.Sum(nil))
	return id
}

// DeriveVerifyKey derives a task's VDAF verify key deterministically from
// the taskprov global verify-key-init secret and the task id (spec.md
// §4.3 step 3: "a VDAF verify-key derived deterministically from
// (taskprov.verify_key_init, task_id)").
func DeriveVerifyKey(verifyKeyInit []byte, taskID dap.TaskId) []byte {
	mac := hmac.New(sha256.New, verifyKeyInit)
	mac.Write(taskID[:])
	return mac.Sum(nil)
}

// Reconstruct rebuilds and authenticates a Config from a taskprov
// extension payload (spec.md §4.3 steps 3-4). It returns ok=false if taskID
// is not the correct derivation of params under version — the forged- or
// corrupted-payload case that must be rejected with AbortInvalidTask.
func Reconstruct(version dap.Version, taskID dap.TaskId, p Params, verifyKeyInit, collectorHpke []byte) (Config, bool) {
	want := DeriveTaskID(version, p)
	if subtle.ConstantTimeCompare(want[:], taskID[:]) != 1 {
		return Config{}, false
	}
	return Config{
		ID:             taskID,
		Version:        version,
		Vdaf:           p.Vdaf,
		VdafVerifyKey:  DeriveVerifyKey(verifyKeyInit, taskID),
		Query:          p.Query,
		TimePrecision:  p.TimePrecision,
		MinBatchSize:   p.MinBatchSize,
		Expiry:         p.Expiry,
		LifetimeWindow: p.LifetimeWindow,
		CollectorHpke:  collectorHpke,
		LeaderURL:      p.LeaderURL,
		HelperURL:      p.HelperURL,
		Taskprov:       true,
	}, true
}
