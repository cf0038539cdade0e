package dap

import (
	"encoding/hex"
	"encoding/json"
)

// decodeHexID hex-decodes s, checking the result is exactly wantLen bytes
// unless wantLen is negative (variable-length ids, e.g. AggregationJobId).
func decodeHexID(s string, wantLen int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if wantLen >= 0 && len(b) != wantLen {
		return nil, errInvalidLength("id", wantLen, len(b))
	}
	return b, nil
}

// The JSON marshaling below renders every opaque id as its hex string
// rather than a numeric byte array, since the HTTP transport this core is
// wired to (the "enclosing service", out of scope for the core itself)
// uses JSON bodies rather than each draft's TLS-syntax binary encoding.

func (id TaskId) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}

func (id *TaskId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := TaskIdFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id ReportId) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}

func (id *ReportId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ReportIdFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id BatchId) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}

func (id *BatchId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := BatchIdFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id CollectionJobId) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}

func (id *CollectionJobId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	b2, err := decodeHexID(s, len(*id))
	if err != nil {
		return err
	}
	copy(id[:], b2)
	return nil
}

func (id AggregationJobId) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}

func (id *AggregationJobId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	b2, err := decodeHexID(s, -1)
	if err != nil {
		return err
	}
	*id = b2
	return nil
}
