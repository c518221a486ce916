// Package errtrack is the fire-and-forget error sink used by the
// background paths. Failures reported here never surface to the caller
// whose request already committed.
package errtrack

import (
	"context"
	"log/slog"
)

// Reporter receives errors from best-effort paths (flush, membership
// recomputation, webhook dispatch).
type Reporter interface {
	Report(ctx context.Context, err error)
}

// LogReporter reports errors to the structured log.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a Reporter backed by slog.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Report logs the error at error level.
func (r *LogReporter) Report(ctx context.Context, err error) {
	if err == nil {
		return
	}
	r.logger.ErrorContext(ctx, "captured background error", "error", err)
}
