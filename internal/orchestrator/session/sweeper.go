package session

import (
	"context"
	"fmt"
	"time"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
)

// SweepResult summarizes one sweep
type SweepResult struct {
	Terminated int
	Purged     int
}

// Sweep terminates sessions that exceeded policy and purges terminated
// sessions older than the retention window
func (r *Registry) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	sessions, err := r.store.List(ctx, storage.SessionFilter{})
	if err != nil {
		return res, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := r.now()
	retention := r.cfg.Current().Session.Retention

	for _, s := range sessions {
		if s.Terminated() {
			if s.TerminatedAt != nil && now.Sub(*s.TerminatedAt) > retention {
				if err := r.store.Delete(ctx, s.ID); err != nil {
					r.logger.Warn("Failed to purge session", "session_id", s.ID, "error", err)
					continue
				}
				res.Purged++
			}
			continue
		}

		expired, cause := r.ShouldTerminate(s, now)
		if !expired {
			continue
		}
		if err := r.Terminate(ctx, s.ID, cause); err != nil {
			r.logger.Warn("Failed to terminate expired session", "session_id", s.ID, "error", err)
			continue
		}
		res.Terminated++
	}

	if res.Terminated > 0 || res.Purged > 0 {
		r.logger.Info("Session sweep finished", "terminated", res.Terminated, "purged", res.Purged)
	}
	return res, nil
}

// Start runs the periodic sweep until ctx is canceled
func (r *Registry) Start(ctx context.Context) {
	interval := r.cfg.Current().Session.SweepInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Session sweeper started", "sweep_interval", interval)

	for {
		select {
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("Session sweep failed", "error", err)
			}
			if next := r.cfg.Current().Session.SweepInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-ctx.Done():
			r.logger.Info("Session sweeper stopped")
			return
		}
	}
}
