package core

// sweeper.go evicts stale registry state.
//
// Every SweepInterval it removes validation sessions past their expiry and
// finished jobs whose CompletedAt is older than JobRetention. A failed
// sweep is logged and retried on the next tick.

import (
	"context"
	"time"
)

// StartSweeper runs sweeps until ctx is cancelled. It sweeps once
// immediately, then every SweepInterval.
func (s *Service) StartSweeper(ctx context.Context) {
	s.logger.Info("registry sweeper started",
		"interval", s.cfg.SweepInterval.String(),
		"job_retention", s.cfg.JobRetention.String(),
	)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("registry sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one eviction pass.
func (s *Service) Sweep(ctx context.Context) SweepResult {
	start := s.now()
	res, err := s.registry.Sweep(ctx, start, s.cfg.JobRetention)
	if err != nil {
		s.logger.Error("registry sweep failed", "error", err)
		return res
	}
	if res.Sessions > 0 || res.Jobs > 0 {
		s.logger.Info("registry sweep completed",
			"sessions_removed", res.Sessions,
			"jobs_removed", res.Jobs,
			"duration_ms", s.now().Sub(start).Milliseconds(),
		)
	}
	return res
}
