package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/weirdhost-renewer/internal/report"
	"github.com/JakeFAU/weirdhost-renewer/internal/sinks"
	"github.com/JakeFAU/weirdhost-renewer/internal/storage/sqlite"
)

type reportFlags struct {
	raw     bool
	width   int
	history int
}

// newReportCmd creates the 'report' subcommand, which prints the last report
// and optionally the recent run history.
func newReportCmd() *cobra.Command {
	flags := &reportFlags{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the last renewal report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.raw, "raw", false, "print the Markdown source")
	cmd.Flags().IntVar(&flags.width, "width", 80, "word wrap width for rendered output")
	cmd.Flags().IntVar(&flags.history, "history", 0, "also list the N most recent runs from the sqlite history")
	return cmd
}

func runReport(cmd *cobra.Command, flags *reportFlags) error {
	s, err := resolveSettings(cmd.Context())
	if err != nil {
		return err
	}
	path := filepath.Join(s.cfg.Report.Dir, s.cfg.Report.Path)
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	out := cmd.OutOrStdout()
	if flags.raw {
		_, err = out.Write(body)
	} else {
		err = renderMarkdown(out, string(body), flags.width)
	}
	if err != nil {
		return err
	}

	if flags.history <= 0 {
		return nil
	}
	if s.cfg.History.Backend != "sqlite" {
		return fmt.Errorf("--history needs history.backend sqlite, got %q", s.cfg.History.Backend)
	}
	store, err := sqlite.Open(cmd.Context(), s.cfg.History.SQLite)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = store.Close() }()
	runs, err := store.Recent(cmd.Context(), flags.history)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	for _, run := range runs {
		fmt.Fprintf(out, "\n%s  %s\n", run.FinishedAt.In(report.Zone).Format(report.TimestampLayout), run.ID)
		fmt.Fprintln(out, sinks.SummaryTable(run.Outcomes))
	}
	return nil
}

func renderMarkdown(out io.Writer, md string, width int) error {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("init markdown renderer: %w", err)
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	_, err = fmt.Fprint(out, rendered)
	return err
}
