// Package worker schedules the periodic metric flushes.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gamestats-service/internal/config"
	"github.com/robfig/cron/v3"
)

// Flushable is a buffered metric that can be drained on a schedule
type Flushable interface {
	Name() string
	Handle(ctx context.Context)
}

// FlushScheduler drives the registered metric buffers on their
// configured intervals. One missed or overlapping run is harmless: a
// flush drains whatever is buffered at the time it fires.
type FlushScheduler struct {
	engine *cron.Cron
	config *config.FlushConfig
	logger *slog.Logger
}

// NewFlushScheduler creates a new flush scheduler
func NewFlushScheduler(cfg *config.FlushConfig, logger *slog.Logger) *FlushScheduler {
	return &FlushScheduler{
		engine: cron.New(),
		config: cfg,
		logger: logger,
	}
}

// Register schedules a buffer at its configured interval
func (s *FlushScheduler) Register(flushable Flushable) error {
	interval := s.config.IntervalFor(flushable.Name())
	spec := fmt.Sprintf("@every %s", interval)

	_, err := s.engine.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		flushable.Handle(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling flush for %s: %w", flushable.Name(), err)
	}

	s.logger.Info("registered metric flush", "name", flushable.Name(), "interval", interval)
	return nil
}

// Start begins firing the registered flushes
func (s *FlushScheduler) Start() {
	s.engine.Start()
	s.logger.Info("flush scheduler started")
}

// Stop stops scheduling and waits for in-flight flushes to finish
func (s *FlushScheduler) Stop(timeout time.Duration) {
	ctx := s.engine.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(timeout):
		s.logger.Warn("flush scheduler stop timed out")
	}
	s.logger.Info("flush scheduler stopped")
}
