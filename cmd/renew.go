package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/weirdhost-renewer/internal/app"
)

// newRenewCmd creates the 'renew' subcommand, the same action as the bare root command.
func newRenewCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "renew",
		Short: "Renew every configured server and write the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRenew(cmd, flags)
		},
	}
}

func runRenew(cmd *cobra.Command, flags *rootFlags) error {
	s, err := resolveSettings(cmd.Context())
	if err != nil {
		return err
	}
	svc, err := newApp(cmd.Context(), s.cfg, s.logger, app.Options{
		DryRun:  flags.dryRun,
		Stdout:  cmd.OutOrStdout(),
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer svc.Close(context.WithoutCancel(cmd.Context()))

	run, code := svc.Execute(cmd.Context())
	s.logger.Info("renewal run finished",
		zap.String("run_id", run.ID),
		zap.Int("outcomes", len(run.Outcomes)),
		zap.Int("exit_code", code))
	if code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}
