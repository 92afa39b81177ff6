package sinks

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

// Publisher delivers a payload with string attributes.
type Publisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
	Close() error
}

// RunSummary is the message body published for each run.
type RunSummary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Succeeded  bool            `json:"succeeded"`
	Outcomes   []renew.Outcome `json:"outcomes"`
}

// Summarize builds the published body for run.
func Summarize(run renew.Run) RunSummary {
	return RunSummary{
		RunID:      run.ID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Succeeded:  run.Succeeded(),
		Outcomes:   run.Outcomes,
	}
}

// PublisherSink announces each finished run on a message topic.
type PublisherSink struct {
	pub    Publisher
	logger *zap.Logger
}

// NewPublisherSink wraps pub.
func NewPublisherSink(pub Publisher, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{pub: pub, logger: logger.Named("publisher")}
}

// Name identifies the sink in logs.
func (*PublisherSink) Name() string { return "publisher" }

// Consume publishes the run summary.
func (s *PublisherSink) Consume(ctx context.Context, run renew.Run) error {
	attrs := map[string]string{
		"run_id":    run.ID,
		"succeeded": strconv.FormatBool(run.Succeeded()),
	}
	id, err := s.pub.Publish(ctx, Summarize(run), attrs)
	if err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	s.logger.Debug("run summary published", zap.String("message_id", id))
	return nil
}

// Close releases the publisher.
func (s *PublisherSink) Close(context.Context) error {
	return s.pub.Close()
}
