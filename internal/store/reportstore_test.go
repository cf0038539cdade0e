package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapaggregator/internal/dap"
)

func TestMemReportStore_PutRejectsDuplicatePending(t *testing.T) {
	s := NewMemReportStore()
	ctx := context.Background()
	taskID := dap.TaskId{1}
	r := dap.Report{Metadata: dap.ReportMetadata{ID: dap.ReportId{1}}}

	require.NoError(t, s.Put(ctx, dap.VersionDraft04, taskID, r))
	err := s.Put(ctx, dap.VersionDraft04, taskID, r)
	require.Error(t, err)
	var exists *ErrReportExists
	assert.ErrorAs(t, err, &exists)
}

func TestMemReportStore_PullRemovesReturnedReports(t *testing.T) {
	s := NewMemReportStore()
	ctx := context.Background()
	taskID := dap.TaskId{1}

	for i := byte(0); i < 5; i++ {
		require.NoError(t, s.Put(ctx, dap.VersionDraft04, taskID, dap.Report{Metadata: dap.ReportMetadata{ID: dap.ReportId{i}}}))
	}

	pulled, err := s.Pull(ctx, dap.VersionDraft04, taskID, 3)
	require.NoError(t, err)
	assert.Len(t, pulled, 3)

	rest, err := s.Pull(ctx, dap.VersionDraft04, taskID, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestMemReportStore_MarkAndCheckProcessed(t *testing.T) {
	s := NewMemReportStore()
	ctx := context.Background()
	taskID := dap.TaskId{1}
	a, b := dap.ReportId{1}, dap.ReportId{2}

	require.NoError(t, s.MarkProcessed(ctx, dap.VersionDraft04, taskID, []dap.ReportId{a}))

	got, err := s.IsProcessed(ctx, dap.VersionDraft04, taskID, []dap.ReportId{a, b})
	require.NoError(t, err)
	assert.True(t, got[a])
	assert.False(t, got[b])
}
