package dap

// HpkeCiphertext is a sealed input share as carried on the wire: enough to
// identify which HPKE receiver config decrypts it, plus the encapsulated
// key and payload. The core treats enc/payload as opaque bytes; HPKE
// itself is out of scope (spec.md §1).
type HpkeCiphertext struct {
	ConfigID uint8
	Enc      []byte
	Payload  []byte
}

// Extension is a single report extension TLV. The taskprov extension
// (internal/task/taskprov.go) is carried this way.
type Extension struct {
	Type    uint16
	Payload []byte
}

// ReportMetadata is the public, unencrypted portion of a report.
type ReportMetadata struct {
	ID         ReportId
	Time       uint64 // seconds
	Extensions []Extension
}

// Extension looks up the first extension of the given type, if any.
func (m ReportMetadata) Extension(typ uint16) (Extension, bool) {
	for _, e := range m.Extensions {
		if e.Type == typ {
			return e, true
		}
	}
	return Extension{}, false
}

// Report is the immutable client upload (spec.md §3). Once submitted it is
// never mutated; re-submission of the same ReportId is a replay.
type Report struct {
	Metadata             ReportMetadata
	PublicShare          []byte
	EncryptedInputShares [2]HpkeCiphertext // [0] = Leader, [1] = Helper
}

// QueryType discriminates the two batch-selection strategies (spec.md §3).
type QueryType int

const (
	QueryTimeInterval QueryType = iota
	QueryFixedSize
)

// QueryConfig is the per-task batch-selection strategy.
type QueryConfig struct {
	Type         QueryType
	MaxBatchSize uint64 // only meaningful for QueryFixedSize
}

// BatchBucket is the minimal accumulation unit a batch's span decomposes
// into (spec.md §3, §4.5). Exactly one of the two fields is meaningful,
// selected by the owning task's QueryConfig.Type.
type BatchBucket struct {
	TimeWindowStart uint64 // QueryTimeInterval
	BatchID         BatchId // QueryFixedSize
}

// Key renders the bucket as a stable string for use as a map key / durable
// actor name suffix (spec.md §6, "bucket_encoding").
func (b BatchBucket) Key(q QueryType) string {
	if q == QueryFixedSize {
		return "batch/" + b.BatchID.Hex()
	}
	return "time/" + uitoa(b.TimeWindowStart)
}

func uitoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var digits [20]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}

// PartialBatchSelector identifies the batch a set of reports in one
// aggregation job belong to (spec.md §4.4, AggJobInitReq.part_batch_sel).
type PartialBatchSelector struct {
	Type    QueryType
	BatchID BatchId // QueryFixedSize only
}

// BatchSelector identifies the batch(es) a Collector or the collection
// finisher addresses (spec.md §4.5, §4.7).
type BatchSelector struct {
	Type            QueryType
	BatchID         BatchId // QueryFixedSize
	TimeIntervalLow uint64  // QueryTimeInterval, inclusive
	TimeIntervalHi  uint64  // QueryTimeInterval, exclusive
}

// AggregateShare is the mergeable per-bucket accumulator (spec.md §3). The
// merge law is: report_count sums, checksum XORs, and payload combines via
// the VDAF's (out-of-scope) combine operation.
type AggregateShare struct {
	ReportCount uint64
	Checksum    [32]byte
	Payload     []byte
}

// Empty reports whether the share carries no reports yet.
func (s AggregateShare) Empty() bool {
	return s.ReportCount == 0
}

// XorChecksum XORs b into the checksum in place.
func (s *AggregateShare) XorChecksum(b [32]byte) {
	for i := range s.Checksum {
		s.Checksum[i] ^= b[i]
	}
}

// Merge combines two AggregateShares under the merge law (spec.md §3):
// report_count sums, checksum XORs, and payload combines via the VDAF's
// (out-of-scope) combine operation, supplied by the caller.
func Merge(a, b AggregateShare, combine func(x, y []byte) []byte) AggregateShare {
	out := a
	out.ReportCount += b.ReportCount
	out.XorChecksum(b.Checksum)
	out.Payload = combine(a.Payload, b.Payload)
	return out
}

// ReportIDChecksum derives the per-report checksum contribution: the raw
// report id bytes, XORed into the bucket checksum on merge (spec.md §3).
func ReportIDChecksum(id ReportId) [32]byte {
	var out [32]byte
	copy(out[:], id[:])
	return out
}

// Span enumerates the buckets a BatchSelector's query decomposes into
// (spec.md §4.5, "batch-selector operations ... fan out across all buckets
// of the selector's span"). For a fixed-size query the span is always the
// single bucket naming that batch; for a time-interval query it's one
// bucket per timePrecision-sized window covering [sel.TimeIntervalLow,
// sel.TimeIntervalHi).
func Span(sel BatchSelector, timePrecision uint64) []BatchBucket {
	if sel.Type == QueryFixedSize {
		return []BatchBucket{{BatchID: sel.BatchID}}
	}
	if timePrecision == 0 {
		return nil
	}
	start := sel.TimeIntervalLow - (sel.TimeIntervalLow % timePrecision)
	var buckets []BatchBucket
	for t := start; t < sel.TimeIntervalHi; t += timePrecision {
		buckets = append(buckets, BatchBucket{TimeWindowStart: t})
	}
	return buckets
}

// BucketForTime returns the time-interval bucket a report at the given time
// falls into under the given precision.
func BucketForTime(time, timePrecision uint64) BatchBucket {
	if timePrecision == 0 {
		return BatchBucket{TimeWindowStart: time}
	}
	return BatchBucket{TimeWindowStart: time - (time % timePrecision)}
}
