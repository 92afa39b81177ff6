package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

// DefaultPath is where the report lands relative to the primary store.
const DefaultPath = "README.md"

const contentType = "text/markdown; charset=utf-8"

// Writer renders and stores the report, then copies it to any mirrors.
type Writer struct {
	path    string
	primary renew.ArtifactStore
	mirrors []renew.ArtifactStore
	logger  *zap.Logger
}

// NewWriter creates a Writer that stores the report at path in primary.
func NewWriter(path string, primary renew.ArtifactStore, logger *zap.Logger, mirrors ...renew.ArtifactStore) *Writer {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{path: path, primary: primary, mirrors: mirrors, logger: logger.Named("report")}
}

// Path returns the object path the report is written to.
func (w *Writer) Path() string {
	return w.path
}

// Write renders outcomes and overwrites the report. Failures are logged and returned.
func (w *Writer) Write(ctx context.Context, outcomes []renew.Outcome, now time.Time) error {
	doc := Render(outcomes, now)

	uri, err := w.primary.PutObject(ctx, w.path, contentType, strings.NewReader(doc))
	if err != nil {
		w.logger.Error("write report failed", zap.String("path", w.path), zap.Error(err))
		return fmt.Errorf("write report: %w", err)
	}
	w.logger.Info("report written", zap.String("uri", uri), zap.Int("entries", len(outcomes)))

	var errs []error
	for _, m := range w.mirrors {
		uri, err := m.PutObject(ctx, w.path, contentType, strings.NewReader(doc))
		if err != nil {
			w.logger.Warn("mirror report failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("mirror report: %w", err))
			continue
		}
		w.logger.Info("report mirrored", zap.String("uri", uri))
	}
	return errors.Join(errs...)
}
