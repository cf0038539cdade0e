package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapaggregator/internal/dap"
)

func sampleParams() Params {
	return Params{
		Vdaf:          "Prio3Count",
		Query:         dap.QueryConfig{Type: dap.QueryTimeInterval},
		TimePrecision: 60,
		MinBatchSize:  10,
		LeaderURL:     "https://leader.example/",
		HelperURL:     "https://helper.example/",
	}
}

func TestEncodeParseExtension_RoundTrip(t *testing.T) {
	p := sampleParams()
	payload := Encode(p)
	got, ok := ParseExtension(payload)
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestDeriveTaskID_Deterministic(t *testing.T) {
	p := sampleParams()
	a := DeriveTaskID(dap.VersionDraft04, p)
	b := DeriveTaskID(dap.VersionDraft04, p)
	assert.Equal(t, a, b)

	c := DeriveTaskID(dap.VersionDraft02, p)
	assert.NotEqual(t, a, c, "version must be bound into the derivation")
}

func TestReconstruct_AcceptsCorrectDerivation(t *testing.T) {
	p := sampleParams()
	taskID := DeriveTaskID(dap.VersionDraft04, p)

	cfg, ok := Reconstruct(dap.VersionDraft04, taskID, p, []byte("verify-key-init"), []byte("collector-hpke"))
	require.True(t, ok)
	assert.Equal(t, taskID, cfg.ID)
	assert.True(t, cfg.Taskprov)
	assert.NotEmpty(t, cfg.VdafVerifyKey)
}

func TestReconstruct_RejectsTamperedPayload(t *testing.T) {
	p := sampleParams()
	taskID := DeriveTaskID(dap.VersionDraft04, p)

	tampered := p
	tampered.MinBatchSize = 999999

	_, ok := Reconstruct(dap.VersionDraft04, taskID, tampered, []byte("verify-key-init"), nil)
	assert.False(t, ok)
}

func TestDeriveVerifyKey_Deterministic(t *testing.T) {
	taskID := dap.TaskId{1}
	a := DeriveVerifyKey([]byte("init"), taskID)
	b := DeriveVerifyKey([]byte("init"), taskID)
	assert.Equal(t, a, b)
}
