// Package app builds the long-lived services for one renewer invocation and
// acts as the dependency injection container for the CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/weirdhost-renewer/internal/browser/headless"
	"github.com/JakeFAU/weirdhost-renewer/internal/browser/rod"
	"github.com/JakeFAU/weirdhost-renewer/internal/clock/system"
	"github.com/JakeFAU/weirdhost-renewer/internal/config"
	"github.com/JakeFAU/weirdhost-renewer/internal/id/uuid"
	"github.com/JakeFAU/weirdhost-renewer/internal/publisher/pubsub"
	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
	"github.com/JakeFAU/weirdhost-renewer/internal/report"
	"github.com/JakeFAU/weirdhost-renewer/internal/sinks"
	"github.com/JakeFAU/weirdhost-renewer/internal/storage/gcs"
	"github.com/JakeFAU/weirdhost-renewer/internal/storage/local"
	"github.com/JakeFAU/weirdhost-renewer/internal/storage/memory"
	"github.com/JakeFAU/weirdhost-renewer/internal/storage/postgres"
	"github.com/JakeFAU/weirdhost-renewer/internal/storage/sqlite"
	"github.com/JakeFAU/weirdhost-renewer/internal/telemetry"
)

// ServiceName tags traces and metrics.
const ServiceName = "weirdhost-renewer"

// Options adjusts how services are built.
type Options struct {
	// DryRun keeps the report and screenshots in memory and skips every remote sink.
	DryRun bool
	// Stdout receives the console summary table; nil disables it.
	Stdout io.Writer
	// Browser overrides the engine chosen by configuration.
	Browser renew.Browser
	// Clock and IDs override the system clock and UUID generator.
	Clock renew.Clock
	IDs   renew.IDGenerator
	// Version is recorded on traces.
	Version string
}

// App holds the shared services for one invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	runner     *renew.Runner
	dispatcher *sinks.Dispatcher
	reports    renew.ArtifactStore
	writer     *report.Writer
	tracer     *sdktrace.TracerProvider
	gcsClient  *gcstorage.Client
}

// New wires every service from cfg. Remote services are only dialled when configured.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, ServiceName, opts.Version)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracer = tp

	clk := opts.Clock
	if clk == nil {
		clk = system.New()
	}
	ids := opts.IDs
	if ids == nil {
		ids = uuid.New()
	}

	var screenshots renew.ArtifactStore
	if opts.DryRun {
		logger.Info("dry run: report and screenshots stay in memory")
		a.reports = memory.NewBlobStore()
		screenshots = memory.NewBlobStore()
	} else {
		reports, err := local.New(local.Config{BaseDir: cfg.Report.Dir})
		if err != nil {
			return nil, fmt.Errorf("init report store: %w", err)
		}
		a.reports = reports
		shots, err := local.New(local.Config{BaseDir: filepath.Join(cfg.Report.Dir, cfg.Report.ScreenshotDir)})
		if err != nil {
			return nil, fmt.Errorf("init screenshot store: %w", err)
		}
		screenshots = shots
	}

	browser := opts.Browser
	if browser == nil {
		browser = newBrowser(cfg.Browser.Engine, logger)
	}

	auth := renew.NewAuthenticator(cfg.AuthConfig(), clk, logger.Named("auth"))
	executor := renew.NewExecutor(cfg.ExecutorConfig(), cfg.Classifier(), screenshots, logger.Named("executor"))
	a.runner = renew.NewRunner(cfg.RunnerConfig(), browser, auth, executor, clk, ids, logger.Named("runner"))

	sinkList, err := a.buildSinks(ctx, opts)
	if err != nil {
		return nil, err
	}
	a.dispatcher = sinks.NewDispatcher(sinks.Config{Logger: logger}, sinkList...)

	ok = true
	return a, nil
}

func newBrowser(engine string, logger *zap.Logger) renew.Browser {
	if engine == "rod" {
		return rod.NewLauncher(logger.Named("rod"))
	}
	return headless.NewLauncher(logger.Named("chromedp"))
}

func (a *App) buildSinks(ctx context.Context, opts Options) (out []sinks.Sink, err error) {
	cfg := a.cfg
	defer func() {
		if err != nil {
			sinks.NewDispatcher(sinks.Config{Logger: a.logger}, out...).Close(context.WithoutCancel(ctx))
		}
	}()

	var mirrors []renew.ArtifactStore
	if !opts.DryRun && cfg.Report.GCSBucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = client
		mirror, err := gcs.New(client, gcs.Config{Bucket: cfg.Report.GCSBucket, Prefix: cfg.Report.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs mirror: %w", err)
		}
		mirrors = append(mirrors, mirror)
	}
	a.writer = report.NewWriter(cfg.Report.Path, a.reports, a.logger, mirrors...)

	out = []sinks.Sink{
		sinks.NewReportSink(a.writer),
		sinks.NewLogSink(a.logger, opts.Stdout),
	}

	metricsCfg := sinks.PrometheusConfig{Job: cfg.Metrics.Job}
	if !opts.DryRun {
		metricsCfg.PushURL = cfg.Metrics.PushURL
	}
	prom, err := sinks.NewPrometheusSink(prometheus.NewRegistry(), metricsCfg, a.logger)
	if err != nil {
		return out, fmt.Errorf("init metrics: %w", err)
	}
	out = append(out, prom)

	if opts.DryRun {
		return out, nil
	}

	switch cfg.History.Backend {
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.History.SQLite)
		if err != nil {
			return out, fmt.Errorf("init sqlite history: %w", err)
		}
		out = append(out, sinks.NewStoreSink(store))
	case "postgres":
		store, err := postgres.NewHistoryStore(ctx, cfg.History.Postgres)
		if err != nil {
			return out, fmt.Errorf("init postgres history: %w", err)
		}
		out = append(out, sinks.NewStoreSink(store))
	}

	if cfg.PubSub.Topic != "" {
		pub, err := pubsub.Dial(ctx, pubsub.Config{ProjectID: cfg.PubSub.ProjectID, Topic: cfg.PubSub.Topic})
		if err != nil {
			return out, fmt.Errorf("init pubsub: %w", err)
		}
		out = append(out, sinks.NewPublisherSink(pub, a.logger))
	}
	return out, nil
}

// Runner returns the renewal orchestrator.
func (a *App) Runner() *renew.Runner {
	return a.runner
}

// Dispatcher returns the run sink fan-out.
func (a *App) Dispatcher() *sinks.Dispatcher {
	return a.dispatcher
}

// ReportStore returns the store the report is written to.
func (a *App) ReportStore() renew.ArtifactStore {
	return a.reports
}

// ReportPath returns the report object path inside ReportStore.
func (a *App) ReportPath() string {
	return a.writer.Path()
}

// Execute performs one run, fans it out to the sinks and returns the run with
// its process exit code. Sink failures never change the exit code.
// The run and every sink share one trace, so notifications carry its context.
func (a *App) Execute(ctx context.Context) (renew.Run, int) {
	ctx, span := a.tracer.Tracer(ServiceName).Start(ctx, "renewer.execute")
	defer span.End()

	run := a.runner.Run(ctx)
	span.SetAttributes(attribute.String("run.id", run.ID), attribute.Bool("run.succeeded", run.Succeeded()))
	// The report is still written when the run was interrupted.
	a.dispatcher.Dispatch(context.WithoutCancel(ctx), run)
	return run, renew.ExitCode(run.Outcomes)
}

// Close shuts down sinks, clients and the tracer provider, then flushes the logger.
func (a *App) Close(ctx context.Context) {
	if a.dispatcher != nil {
		a.dispatcher.Close(ctx)
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("close gcs client failed", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
