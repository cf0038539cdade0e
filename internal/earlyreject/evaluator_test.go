package earlyreject

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dapaggregator/internal/dap"
)

func baseInput() Input {
	return Input{
		Metadata: dap.ReportMetadata{ID: dap.ReportId{1}, Time: 100},
		MinTime:  50,
		MaxTime:  150,
	}
}

func TestEvaluate_Survives(t *testing.T) {
	_, rejected := Evaluate(baseInput())
	assert.False(t, rejected)
}

func TestEvaluate_ReportReplayed(t *testing.T) {
	in := baseInput()
	in.Processed = true
	f, rejected := Evaluate(in)
	assert.True(t, rejected)
	assert.Equal(t, dap.TransitionReportReplayed, f)
}

func TestEvaluate_BatchCollected(t *testing.T) {
	in := baseInput()
	in.Collected = true
	f, rejected := Evaluate(in)
	assert.True(t, rejected)
	assert.Equal(t, dap.TransitionBatchCollected, f)
}

func TestEvaluate_ReportTooEarly(t *testing.T) {
	in := baseInput()
	in.Metadata.Time = 200
	f, rejected := Evaluate(in)
	assert.True(t, rejected)
	assert.Equal(t, dap.TransitionReportTooEarly, f)
}

func TestEvaluate_ReportDropped(t *testing.T) {
	in := baseInput()
	in.Metadata.Time = 10
	f, rejected := Evaluate(in)
	assert.True(t, rejected)
	assert.Equal(t, dap.TransitionReportDropped, f)
}

func TestEvaluate_TaskExpired(t *testing.T) {
	in := baseInput()
	in.TaskExpired = true
	f, rejected := Evaluate(in)
	assert.True(t, rejected)
	assert.Equal(t, dap.TransitionTaskExpired, f)
}

func TestEvaluate_ReplayedTakesPrecedenceOverCollected(t *testing.T) {
	in := baseInput()
	in.Processed = true
	in.Collected = true
	f, _ := Evaluate(in)
	assert.Equal(t, dap.TransitionReportReplayed, f)
}

func TestEvaluateAll_OnlyRejectedReportsAppear(t *testing.T) {
	survivor := baseInput()
	survivor.Metadata.ID = dap.ReportId{2}

	rejected := baseInput()
	rejected.Metadata.ID = dap.ReportId{3}
	rejected.Processed = true

	fails := EvaluateAll([]Input{survivor, rejected})
	assert.Len(t, fails, 1)
	f, ok := fails[dap.ReportId{3}]
	assert.True(t, ok)
	assert.Equal(t, dap.TransitionReportReplayed, f)
}
