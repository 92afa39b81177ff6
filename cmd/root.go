package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/weirdhost-renewer/internal/app"
	"github.com/JakeFAU/weirdhost-renewer/internal/config"
	"github.com/JakeFAU/weirdhost-renewer/internal/logging"
	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

// version is stamped at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

// settingsKeyType is the key for storing the loaded settings in the context.
type settingsKeyType string

const settingsKey settingsKeyType = "settings"

// settings is what PersistentPreRunE hands to every subcommand.
type settings struct {
	cfg    config.Config
	logger *zap.Logger
}

// Service is the part of app.App the commands use. Tests inject a fake.
type Service interface {
	Execute(ctx context.Context) (renew.Run, int)
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can swap the browser.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts app.Options) (Service, error) {
	return app.New(ctx, cfg, logger, opts)
}

// newLogger is a variable so tests can silence output.
var newLogger = logging.New

// exitCodeError carries a non-zero exit code without an error message.
type exitCodeError struct{ code int }

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

type rootFlags struct {
	configFile string
	envFiles   []string
	logLevel   string
	dryRun     bool
}

// newRootCmd creates and configures the root command. Running it without a
// subcommand performs a renewal run.
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "weirdhost-renewer",
		Short: "Renews Weirdhost server leases and writes a status report.",
		Long: `weirdhost-renewer logs into the Weirdhost panel with a remember-me cookie or
email and password, presses the renewal button on every configured server and
records the outcome of each server in a Markdown report.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(flags)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), settingsKey, s))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if s, ok := cmd.Context().Value(settingsKey).(*settings); ok && s != nil {
				_ = s.logger.Sync()
			}
		},

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRenew(cmd, flags)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file (YAML, JSON or TOML)")
	pf.StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment is read")
	pf.StringVar(&flags.logLevel, "log-level", "", "override logging.level")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "keep the report in memory and skip remote sinks")

	cmd.AddCommand(newRenewCmd(flags))
	cmd.AddCommand(newReportCmd())
	return cmd
}

func loadSettings(flags *rootFlags) (*settings, error) {
	if err := config.LoadDotEnv(flags.envFiles...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	logger, err := newLogger(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &settings{cfg: cfg, logger: logger}, nil
}

func resolveSettings(ctx context.Context) (*settings, error) {
	s, ok := ctx.Value(settingsKey).(*settings)
	if !ok || s == nil {
		return nil, errors.New("settings not initialized")
	}
	return s, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return execute(ctx, newRootCmd(), os.Args[1:])
}

func execute(ctx context.Context, cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
	return 1
}
