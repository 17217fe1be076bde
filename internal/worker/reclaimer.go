package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"driftsync.app/core/common/logger"
	"driftsync.app/core/internal/queue"
)

type RedisReclaimerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
}

// NoticeProcessor handles one reclaimed dispatch notice.
type NoticeProcessor func(ctx context.Context, notice queue.Notice) error

// RedisReclaimer sweeps the consumer group's pending entries list for
// notices a worker read but never acked, the window left by a crash
// between XREADGROUP and XACK. Reprocessing one is safe: the conditional
// claim in Postgres rejects entries that already moved on.
type RedisReclaimer struct {
	client    *redis.Client
	cfg       RedisReclaimerConfig
	consumer  *queue.RedisConsumer
	processor NoticeProcessor

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewRedisReclaimer(client *redis.Client, cfg RedisReclaimerConfig, consumer *queue.RedisConsumer, processor NoticeProcessor) *RedisReclaimer {
	return &RedisReclaimer{
		client:    client,
		cfg:       cfg,
		consumer:  consumer,
		processor: processor,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run sweeps on every tick until the context ends or Stop is called.
func (r *RedisReclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "driftsync.worker.reclaimer",
	})

	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"stream", r.cfg.Stream,
		"group", r.cfg.Group)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			if err := r.reclaimOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim sweep failed", "error", err)
			}
		}
	}
}

func (r *RedisReclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

// reclaimOnce lists PEL entries idle past MinIdle, takes them over with a
// single batch XCLAIM, and feeds the survivors to the processor. An empty
// XCLAIM result for a listed ID means another reclaimer won it, or the
// original consumer acked between the two calls; both are fine to ignore.
func (r *RedisReclaimer) reclaimOnce(ctx context.Context) error {
	stale, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.cfg.Stream,
		Group:  r.cfg.Group,
		Idle:   r.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  r.cfg.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("xpending: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make([]string, len(stale))
	for i, p := range stale {
		ids[i] = p.ID
	}
	slog.InfoContext(ctx, "taking over stale dispatch notices",
		"count", len(ids), "min_idle", r.cfg.MinIdle)

	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return fmt.Errorf("xclaim: %w", err)
	}

	for _, msg := range claimed {
		r.redeliver(ctx, msg)
	}
	return nil
}

// redeliver runs the processor for one claimed message. A message that
// does not parse as a notice is acked and dropped; redelivering it again
// would just loop.
func (r *RedisReclaimer) redeliver(ctx context.Context, msg redis.XMessage) {
	notice, err := queue.ParseNotice(msg)
	if err != nil {
		slog.WarnContext(ctx, "dropping unparseable reclaimed notice",
			"message_id", msg.ID, "error", err)
		_ = r.consumer.Ack(ctx, queue.Notice{ID: msg.ID, Raw: msg})
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID:    &notice.ID,
		QueueEntryID: &notice.EntryID,
	})

	start := time.Now()
	if err := r.processor(ctx, notice); err != nil {
		slog.ErrorContext(ctx, "redelivering reclaimed notice failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "reclaimed notice redelivered",
		"duration_ms", time.Since(start).Milliseconds())
}
