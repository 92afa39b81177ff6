// Package sinks fans a finished run out to its consumers: the Markdown report,
// the console summary, Prometheus, the history store and Pub/Sub.
package sinks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

// Sink consumes a finished run. Implementations must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, run renew.Run) error
	Close(ctx context.Context) error
}

const defaultSinkTimeout = 30 * time.Second

// Config controls the Dispatcher.
type Config struct {
	// SinkTimeout bounds each Consume call (default 30s).
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

// Dispatcher hands a run to every registered sink in order. A failing sink is
// logged and never stops the remaining ones.
type Dispatcher struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher over sinks; nil entries are skipped.
func NewDispatcher(cfg Config, sinks ...Sink) *Dispatcher {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Dispatcher{cfg: cfg, sinks: kept, logger: logger.Named("sinks")}
}

// Len returns the number of registered sinks.
func (d *Dispatcher) Len() int {
	return len(d.sinks)
}

// Dispatch delivers run to every sink and returns how many failed.
func (d *Dispatcher) Dispatch(ctx context.Context, run renew.Run) int {
	failed := 0
	for _, sink := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.cfg.SinkTimeout)
		if err := sink.Consume(sctx, run); err != nil {
			failed++
			d.logger.Warn("run sink consume failed",
				zap.String("sink", sinkName(sink)),
				zap.String("run_id", run.ID),
				zap.Error(err))
		}
		cancel()
	}
	return failed
}

// Close closes every sink, logging failures.
func (d *Dispatcher) Close(ctx context.Context) {
	for _, sink := range d.sinks {
		if err := sink.Close(ctx); err != nil {
			d.logger.Warn("run sink close failed", zap.String("sink", sinkName(sink)), zap.Error(err))
		}
	}
}

type named interface {
	Name() string
}

func sinkName(s Sink) string {
	if n, ok := s.(named); ok {
		return n.Name()
	}
	return "unnamed"
}
