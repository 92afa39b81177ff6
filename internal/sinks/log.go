package sinks

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/zap"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

// LogSink logs every outcome and prints a server/status table to out.
type LogSink struct {
	logger *zap.Logger
	out    io.Writer
}

// NewLogSink wires a Zap logger and an optional table writer to the sink interface.
func NewLogSink(logger *zap.Logger, out io.Writer) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("summary"), out: out}
}

// Name identifies the sink in logs.
func (*LogSink) Name() string { return "log" }

// Consume logs each outcome using structured fields and prints the table.
func (s *LogSink) Consume(_ context.Context, run renew.Run) error {
	for _, o := range run.Outcomes {
		fields := []zap.Field{
			zap.String("run_id", run.ID),
			zap.String("server_id", o.ServerID),
			zap.String("status", string(o.Status)),
		}
		if o.Error != "" {
			fields = append(fields, zap.String("error", o.Error))
		}
		s.logger.Info("renewal outcome", fields...)
	}
	s.logger.Info("run finished",
		zap.String("run_id", run.ID),
		zap.Bool("succeeded", run.Succeeded()),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)))

	if s.out == nil {
		return nil
	}
	if _, err := fmt.Fprintln(s.out, SummaryTable(run.Outcomes)); err != nil {
		return fmt.Errorf("write summary table: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (*LogSink) Close(context.Context) error {
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = cellStyle.Foreground(lipgloss.Color("2"))
	failStyle   = cellStyle.Foreground(lipgloss.Color("1"))
)

// SummaryTable renders outcomes as a two-column server_id/status table.
// Global outcomes appear under "(global)".
func SummaryTable(outcomes []renew.Outcome) string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		id := o.ServerID
		if o.Global() {
			id = "(global)"
		}
		rows = append(rows, []string{id, string(o.Status)})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SERVER", "STATUS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 1 && row >= 0 && row < len(outcomes):
				if outcomes[row].Status.Renewed() {
					return okStyle
				}
				return failStyle
			default:
				return cellStyle
			}
		}).
		String()
}
