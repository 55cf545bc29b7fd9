// Package scheduler runs the periodic overdue task scan.
package scheduler

import (
	"context"
	"time"

	"github.com/greenfin/greenflow/internal/logging"
	"github.com/greenfin/greenflow/internal/workflow"
)

// OverdueScanner periodically terminates pending tasks whose loan deadline
// has elapsed.
type OverdueScanner struct {
	engine   *workflow.Engine
	logger   *logging.Logger
	interval time.Duration
}

// NewOverdueScanner creates a scanner with the given scan interval.
func NewOverdueScanner(engine *workflow.Engine, logger *logging.Logger, interval time.Duration) *OverdueScanner {
	return &OverdueScanner{engine: engine, logger: logger, interval: interval}
}

// Run scans immediately and then on every tick until ctx is cancelled.
func (s *OverdueScanner) Run(ctx context.Context) {
	s.scan(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *OverdueScanner) scan(ctx context.Context) {
	n, err := s.engine.TerminateOverdueTasks(ctx, time.Now())
	if err != nil {
		s.logger.Error("overdue scan failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("overdue scan terminated tasks", "count", n)
	}
}
