package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

// PrometheusConfig controls collector registration and Pushgateway delivery.
type PrometheusConfig struct {
	// PushURL enables pushing to a Pushgateway on Close when non-empty.
	PushURL string
	// Job is the Pushgateway job label (default "weirdhost_renewer").
	Job string
}

// PrometheusSink exports run results as Prometheus collectors. A batch job has
// no scrape endpoint, so the registry is pushed to a Pushgateway when configured.
type PrometheusSink struct {
	gatherer prometheus.Gatherer
	cfg      PrometheusConfig
	logger   *zap.Logger

	runsTotal      *prometheus.CounterVec
	outcomesTotal  *prometheus.CounterVec
	serverRenewed  *prometheus.GaugeVec
	runDuration    prometheus.Histogram
	lastRunSeconds prometheus.Gauge
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg *prometheus.Registry, cfg PrometheusConfig, logger *zap.Logger) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if cfg.Job == "" {
		cfg.Job = "weirdhost_renewer"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrometheusSink{
		gatherer: reg,
		cfg:      cfg,
		logger:   logger.Named("prometheus"),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weirdhost_runs_total",
			Help: "Renewal runs partitioned by result.",
		}, []string{"result"}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weirdhost_outcomes_total",
			Help: "Renewal outcomes partitioned by status.",
		}, []string{"status"}),
		serverRenewed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weirdhost_server_renewed",
			Help: "1 when the last run renewed (or found renewed) the server, 0 otherwise.",
		}, []string{"server_id"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "weirdhost_run_duration_seconds",
			Help:    "Wall time per run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}),
		lastRunSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weirdhost_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsTotal,
		s.outcomesTotal,
		s.serverRenewed,
		s.runDuration,
		s.lastRunSeconds,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register run collector: %w", err)
		}
	}
	return s, nil
}

// Name identifies the sink in logs.
func (*PrometheusSink) Name() string { return "prometheus" }

// Consume updates the collectors from run.
func (s *PrometheusSink) Consume(_ context.Context, run renew.Run) error {
	result := "failure"
	if run.Succeeded() {
		result = "success"
	}
	s.runsTotal.WithLabelValues(result).Inc()
	for _, o := range run.Outcomes {
		s.outcomesTotal.WithLabelValues(string(o.Status)).Inc()
		if o.Global() {
			continue
		}
		renewed := 0.0
		if o.Status.Renewed() {
			renewed = 1
		}
		s.serverRenewed.WithLabelValues(o.ServerID).Set(renewed)
	}
	if d := run.FinishedAt.Sub(run.StartedAt); d > 0 {
		s.runDuration.Observe(d.Seconds())
	}
	if !run.FinishedAt.IsZero() {
		s.lastRunSeconds.Set(float64(run.FinishedAt.Unix()))
	}
	return nil
}

// Close pushes the registry to the Pushgateway when one is configured.
func (s *PrometheusSink) Close(ctx context.Context) error {
	if s.cfg.PushURL == "" {
		return nil
	}
	if err := push.New(s.cfg.PushURL, s.cfg.Job).Gatherer(s.gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	s.logger.Info("metrics pushed", zap.String("url", s.cfg.PushURL), zap.String("job", s.cfg.Job))
	return nil
}
