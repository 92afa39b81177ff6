package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

// HistoryRecorder persists finished runs.
type HistoryRecorder interface {
	SaveRun(ctx context.Context, run renew.Run) error
	Close() error
}

// StoreSink records each run in a history store.
type StoreSink struct {
	repo HistoryRecorder
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo HistoryRecorder) *StoreSink {
	return &StoreSink{repo: repo}
}

// Name identifies the sink in logs.
func (*StoreSink) Name() string { return "history" }

// Consume saves the run.
func (s *StoreSink) Consume(ctx context.Context, run renew.Run) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if err := s.repo.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// Close releases the repository.
func (s *StoreSink) Close(context.Context) error {
	if s == nil || s.repo == nil {
		return nil
	}
	return s.repo.Close()
}
