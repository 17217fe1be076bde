package worker

import (
	"context"
	"log/slog"
	"time"

	"driftsync.app/core/common/logger"
	"driftsync.app/core/internal/inbox"
	"driftsync.app/core/internal/queue"
)

// Reaper is the queue's janitor: it returns entries with lapsed worker
// locks to pending, re-admits valid inbox events that never reached the
// queue, and trims old completed entries.
type Reaper struct {
	queue *queue.Service
	inbox *inbox.Service

	interval      time.Duration
	sweepInterval time.Duration
	sweepBatch    int32
	retention     time.Duration
	logger        *slog.Logger

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

type ReaperConfig struct {
	Interval      time.Duration
	SweepInterval time.Duration
	SweepBatch    int32
	Retention     time.Duration
}

func NewReaper(queueSvc *queue.Service, inboxSvc *inbox.Service, cfg ReaperConfig, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &Reaper{
		queue:         queueSvc,
		inbox:         inboxSvc,
		interval:      cfg.Interval,
		sweepInterval: cfg.SweepInterval,
		sweepBatch:    cfg.SweepBatch,
		retention:     cfg.Retention,
		logger:        logger,
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
}

// Run blocks until Stop() is called or the context ends. Cleanup of old
// completed entries runs once a day relative to the loop start.
func (r *Reaper) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "driftsync.worker.reaper",
	})

	defer close(r.stoppedCh)

	lockTicker := time.NewTicker(r.interval)
	defer lockTicker.Stop()
	sweepTicker := time.NewTicker(r.sweepInterval)
	defer sweepTicker.Stop()
	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer cleanupTicker.Stop()

	r.logger.InfoContext(ctx, "reaper started",
		"lock_interval", r.interval,
		"sweep_interval", r.sweepInterval,
		"retention", r.retention)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			r.logger.InfoContext(ctx, "reaper stopping")
			return
		case <-lockTicker.C:
			if _, err := r.queue.ReleaseExpiredLocks(ctx); err != nil {
				r.logger.ErrorContext(ctx, "releasing expired locks failed", "error", err)
			}
		case <-sweepTicker.C:
			if _, err := r.inbox.Sweep(ctx, r.sweepBatch); err != nil {
				r.logger.ErrorContext(ctx, "inbox sweep failed", "error", err)
			}
		case <-cleanupTicker.C:
			if _, err := r.queue.CleanupOld(ctx, r.retention); err != nil {
				r.logger.ErrorContext(ctx, "queue cleanup failed", "error", err)
			}
		}
	}
}

func (r *Reaper) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}
