package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"driftsync.app/core/common/logger"
)

// The stream is a dispatch channel, not the queue of record. It carries
// entry IDs only; all queue state (status, priority, retry budget, locks)
// lives in Postgres. A lost stream message is recovered by the worker's
// poll fallback, a duplicate one by the conditional claim.

// Notice is one dispatch nudge read from the stream.
type Notice struct {
	ID      string
	EntryID int64
	TraceID string
	Raw     redis.XMessage
}

// Producer announces new queue entries to workers.
type Producer interface {
	Announce(ctx context.Context, entryID int64, traceID string) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Announce(ctx context.Context, entryID int64, traceID string) error {
	fields := map[string]any{
		"entry_id": entryID,
	}
	if traceID != "" {
		fields["trace_id"] = traceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("announcing entry: %w", err)
	}

	p.logger.DebugContext(ctx, "announced queue entry", "entry_id", entryID)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

type ConsumerConfig struct {
	Stream    string        // Redis stream name
	Group     string        // Redis consumer group name
	Consumer  string        // Redis consumer name
	BatchSize int64         // Number of notices to read per batch
	Block     time.Duration // How long to block waiting for new notices
}

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Starting from "0" instead of "$" means notices added while no group
	// existed are still delivered after a restart.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Notice, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "driftsync.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// > = new notices not yet delivered to anyone. Unacked notices are
		// handled by the reclaimer on a separate goroutine.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Notice{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var notices []Notice
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseNotice(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse dispatch notice",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Notice{ID: msg.ID, Raw: msg})
				continue
			}
			notices = append(notices, parsed)
		}
	}

	if len(notices) > 0 {
		slog.DebugContext(ctx, "read dispatch notices",
			"count", len(notices),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return notices, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, notice Notice) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, notice.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

func ParseNotice(msg redis.XMessage) (Notice, error) {
	raw, ok := msg.Values["entry_id"]
	if !ok {
		return Notice{}, fmt.Errorf("missing entry_id")
	}
	entryID, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return Notice{}, fmt.Errorf("parsing entry_id: %w", err)
	}

	traceID := ""
	if v, ok := msg.Values["trace_id"]; ok {
		traceID = fmt.Sprint(v)
	}

	return Notice{
		ID:      msg.ID,
		EntryID: entryID,
		TraceID: traceID,
		Raw:     msg,
	}, nil
}
