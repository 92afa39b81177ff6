package sinks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/weirdhost-renewer/internal/report"
	"github.com/JakeFAU/weirdhost-renewer/internal/storage/memory"
)

func TestReportSinkWritesReportAtFinishTime(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	sink := NewReportSink(report.NewWriter("", store, nil))

	run := sampleRun()
	require.NoError(t, sink.Consume(context.Background(), run))
	require.NoError(t, sink.Close(context.Background()))

	got, ok := store.Object(report.DefaultPath)
	require.True(t, ok)
	require.Equal(t, report.Render(run.Outcomes, run.FinishedAt), string(got))
	require.Contains(t, string(got), "`2025-07-01 02:30:20`")
}
