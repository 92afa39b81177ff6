package renew

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/JakeFAU/weirdhost-renewer/internal/renew"

// RunnerConfig controls the orchestration of one run.
type RunnerConfig struct {
	ServerURLs []string
	Launch     LaunchOptions
	// Pacing is the pause after each server except the last.
	Pacing time.Duration
}

// Runner sequences preflight, login and the per-server loop.
type Runner struct {
	cfg      RunnerConfig
	browser  Browser
	auth     *Authenticator
	executor *Executor
	clock    Clock
	ids      IDGenerator
	sleep    SleepFunc
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(
	cfg RunnerConfig,
	browser Browser,
	auth *Authenticator,
	executor *Executor,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		browser:  browser,
		auth:     auth,
		executor: executor,
		clock:    clock,
		ids:      ids,
		sleep:    Sleep,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
}

// Run performs one renewal run. It never returns an error: every failure is
// represented in the outcomes.
func (r *Runner) Run(ctx context.Context) Run {
	run := Run{StartedAt: r.clock.Now()}
	if r.ids != nil {
		id, err := r.ids.NewID()
		if err != nil {
			r.logger.Warn("generate run id failed", zap.Error(err))
		}
		run.ID = id
	}
	ctx, span := r.tracer.Start(ctx, "renew.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.servers", len(r.cfg.ServerURLs)),
	))
	defer span.End()

	logger := r.logger.With(zap.String("run_id", run.ID))
	logger.Info("renewal run started", zap.Int("servers", len(r.cfg.ServerURLs)))

	run.Outcomes = r.execute(ctx, logger)
	run.FinishedAt = r.clock.Now()

	if !run.Succeeded() {
		span.SetStatus(codes.Error, "not every server renewed")
	}
	logger.Info("renewal run finished",
		zap.Int("outcomes", len(run.Outcomes)),
		zap.Bool("succeeded", run.Succeeded()),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run
}

func (r *Runner) execute(ctx context.Context, logger *zap.Logger) []Outcome {
	if len(r.cfg.ServerURLs) == 0 {
		logger.Error("no server urls configured (WEIRDHOST_SERVER_URLS)")
		return []Outcome{{Status: StatusNoServers, Error: "no server urls configured"}}
	}
	if !r.auth.Config().HasAuth() {
		logger.Error("no authentication configured (REMEMBER_WEB_COOKIE or WEIRDHOST_EMAIL/WEIRDHOST_PASSWORD)")
		return []Outcome{{Status: StatusNoAuth, Error: "no authentication configured"}}
	}
	if _, err := r.auth.Config().Origin(); err != nil {
		logger.Error("base url unusable (WEIRDHOST_URL)", zap.Error(err))
		return []Outcome{{Status: StatusRuntimeError, Error: err.Error()}}
	}

	outcomes, err := r.drive(ctx, logger)
	if err != nil {
		logger.Error("browser run aborted", zap.Error(err))
		return []Outcome{{Status: StatusRuntimeError, Error: err.Error()}}
	}
	return outcomes
}

// drive owns the browser lifecycle. Panics from the engine are turned into errors.
func (r *Runner) drive(ctx context.Context, logger *zap.Logger) (outcomes []Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			outcomes = nil
			err = fmt.Errorf("browser panic: %v", p)
		}
	}()

	logger.Info("launching browser", zap.Bool("headless", r.cfg.Launch.Headless))
	sess, err := r.browser.Launch(ctx, r.cfg.Launch)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("close browser failed", zap.Error(cerr))
		}
	}()

	authCtx, authSpan := r.tracer.Start(ctx, "renew.authenticate")
	ok := r.auth.Authenticate(authCtx, sess)
	authSpan.SetAttributes(attribute.Bool("authenticated", ok))
	authSpan.End()
	if err := interrupted(ctx); err != nil {
		return nil, err
	}
	if !ok {
		return LoginFailed(r.cfg.ServerURLs, "login failed"), nil
	}

	logger.Info("login succeeded; processing servers", zap.Int("servers", len(r.cfg.ServerURLs)))
	outcomes = make([]Outcome, 0, len(r.cfg.ServerURLs))
	for i, serverURL := range r.cfg.ServerURLs {
		out := r.renewOne(ctx, sess, serverURL)
		if err := interrupted(ctx); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, out)
		logger.Info("server processed",
			zap.String("server_id", out.ServerID),
			zap.String("status", string(out.Status)),
		)
		if i < len(r.cfg.ServerURLs)-1 {
			if err := r.sleep(ctx, r.cfg.Pacing); err != nil {
				return nil, fmt.Errorf("pause between servers: %w", err)
			}
		}
	}
	return outcomes, nil
}

// interrupted reports a cancelled run. Outcomes gathered under a cancelled
// context describe the cancellation, not the server, so they are discarded.
func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	return nil
}

func (r *Runner) renewOne(ctx context.Context, sess Session, serverURL string) Outcome {
	ctx, span := r.tracer.Start(ctx, "renew.server", trace.WithAttributes(
		attribute.String("server.id", ServerIDFromURL(serverURL)),
	))
	defer span.End()
	out := r.executor.Renew(ctx, sess, strings.TrimSpace(serverURL))
	span.SetAttributes(attribute.String("renew.status", string(out.Status)))
	if !out.Status.Renewed() {
		span.SetStatus(codes.Error, string(out.Status))
	}
	return out
}
