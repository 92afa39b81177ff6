package sinks

import (
	"context"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
	"github.com/JakeFAU/weirdhost-renewer/internal/report"
)

// ReportSink writes the Markdown report for each run.
type ReportSink struct {
	writer *report.Writer
}

// NewReportSink wraps a report writer.
func NewReportSink(w *report.Writer) *ReportSink {
	return &ReportSink{writer: w}
}

// Name identifies the sink in logs.
func (*ReportSink) Name() string { return "report" }

// Consume renders the outcomes stamped with the run's finish time.
func (s *ReportSink) Consume(ctx context.Context, run renew.Run) error {
	return s.writer.Write(ctx, run.Outcomes, run.FinishedAt)
}

// Close implements the Sink interface; it performs no action.
func (*ReportSink) Close(context.Context) error {
	return nil
}
