package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// Reaper requeues work items whose lease expired without a completion or
// failure signal
type Reaper struct {
	storage   LeaseStorage
	cfg       config.Source
	onRelease ReleaseHandler
	logger    *slog.Logger
	now       func() time.Time
}

// NewReaper creates a lease reaper. onRelease may be nil.
func NewReaper(storage LeaseStorage, cfg config.Source, onRelease ReleaseHandler, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Static(nil)
	}
	return &Reaper{
		storage:   storage,
		cfg:       cfg,
		onRelease: onRelease,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs the reaper until ctx is canceled. The check interval is re-read
// after every sweep so configuration reloads apply.
func (r *Reaper) Start(ctx context.Context) {
	interval := r.cfg.Current().Queue.CheckInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Lease reaper started",
		"check_interval", interval,
		"batch_size", r.cfg.Current().Queue.BatchSize,
	)

	for {
		select {
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("Failed to reap expired leases", "error", err)
			}
			if next := r.cfg.Current().Queue.CheckInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-ctx.Done():
			r.logger.Info("Lease reaper stopped")
			return
		}
	}
}

// Sweep releases expired leases once and returns how many items it touched
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	items, err := r.storage.ExpireLeases(ctx, r.now(), r.cfg.Current().Queue.BatchSize)
	if err != nil {
		return 0, err
	}

	if len(items) == 0 {
		return 0, nil
	}

	r.logger.Debug("Processing expired leases", "count", len(items))

	for _, item := range items {
		if item.Status == types.WorkDeadLettered {
			r.logger.Warn("Work item lease expired, retries exhausted",
				"item_id", item.ID,
				"retry_count", item.RetryCount,
				"max_retries", item.MaxRetries,
			)
		} else {
			r.logger.Info("Work item requeued after lease expiry",
				"item_id", item.ID,
				"retry_count", item.RetryCount,
			)
		}
		if r.onRelease != nil {
			r.onRelease(ctx, item)
		}
	}

	return len(items), nil
}
