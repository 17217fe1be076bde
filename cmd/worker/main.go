package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"driftsync.app/core/common/id"
	"driftsync.app/core/common/logger"
	"driftsync.app/core/common/otel"
	"driftsync.app/core/core/config"
	"driftsync.app/core/core/db"
	"driftsync.app/core/internal/bus"
	"driftsync.app/core/internal/health"
	"driftsync.app/core/internal/inbox"
	"driftsync.app/core/internal/model"
	"driftsync.app/core/internal/queue"
	"driftsync.app/core/internal/store"
	"driftsync.app/core/internal/syncrun"
	"driftsync.app/core/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "driftsync worker starting",
		"env", cfg.Env,
		"worker_id", cfg.Worker.ID,
		"consumer_group", cfg.Dispatch.Group,
		"consumer_name", cfg.Dispatch.Consumer)

	// Different node ID than the server so snowflake IDs never collide
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load entity rules", "error", err, "path", cfg.RulesPath)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Dispatch.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Dispatch.Stream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:    cfg.Dispatch.Stream,
		Group:     cfg.Dispatch.Group,
		Consumer:  cfg.Dispatch.Consumer,
		BatchSize: int64(cfg.Worker.BatchSize),
		Block:     5 * time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database.Pool())
	txRunner := store.NewTxRunner(database)
	eventBus := bus.New()

	validator, err := inbox.NewValidator(rules, filepath.Dir(cfg.RulesPath))
	if err != nil {
		slog.ErrorContext(ctx, "failed to build payload validator", "error", err)
		os.Exit(1)
	}

	queueSvc := queue.NewService(stores, txRunner, eventBus, rules, nil, slog.Default())
	inboxSvc := inbox.NewService(stores, validator, queueSvc, slog.Default())
	orchestrator := syncrun.NewOrchestrator(stores, eventBus, slog.Default())

	registry := worker.NewRegistry()
	registerHandlers(registry)

	w := worker.New(consumer, queueSvc, inboxSvc, orchestrator, registry, cfg.Worker)

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Dispatch.Stream,
		Group:     cfg.Dispatch.Group,
		Consumer:  cfg.Dispatch.Consumer + "-reclaimer",
		MinIdle:   cfg.Dispatch.ReclaimMinIdle,
		Interval:  time.Minute,
		BatchSize: 10,
	}, consumer, func(ctx context.Context, notice queue.Notice) error {
		entry, claimed, err := queueSvc.Claim(ctx, notice.EntryID, cfg.Worker.ID, cfg.Worker.LockTTL)
		if err != nil {
			return err
		}
		if claimed {
			w.ProcessEntry(ctx, entry)
		}
		return consumer.Ack(ctx, notice)
	})

	reaper := worker.NewReaper(queueSvc, inboxSvc, worker.ReaperConfig{
		Interval:      cfg.Worker.ReaperInterval,
		SweepInterval: cfg.Worker.SweepInterval,
		SweepBatch:    cfg.Worker.BatchSize,
	}, slog.Default())

	// Health sweeps run here, next to the bus that carries dead-letter
	// events, rather than once per HTTP replica.
	monitor := health.NewMonitor(stores, queueSvc, eventBus, nil, cfg.Health.Interval, slog.Default())
	monitor.SubscribeDeadLetters()

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	go monitor.Run(monitorCtx)

	errCh := make(chan error, 3)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()
	go func() {
		reaper.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	stopMonitor()
	reclaimer.Stop()
	reaper.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

// registerHandlers wires the domain handlers this deployment processes.
// The default build ships an echo handler per rule-known entity type;
// real deployments replace these with handlers that write to their own
// tables.
func registerHandlers(registry *worker.Registry) {
	echo := func(ctx context.Context, entry *model.QueueEntry) (worker.ApplyResult, error) {
		target := entry.SourceEntityID
		return worker.ApplyResult{
			TargetEntityID: &target,
			Details:        map[string]any{"operation": entry.OperationType},
		}, nil
	}

	for _, entityType := range []string{"order", "invoice", "customer", "product"} {
		registry.Register(entityType, echo)
	}
}

const banner = `
██████╗ ██████╗ ██╗███████╗████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔══██╗██╔══██╗██║██╔════╝╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║  ██║██████╔╝██║█████╗     ██║   ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║  ██║██╔══██╗██║██╔══╝     ██║   ╚════██║  ╚██╔╝  ██║╚██╗██║██║
██████╔╝██║  ██║██║██║        ██║   ███████║   ██║   ██║ ╚████║╚██████╗
╚═════╝ ╚═╝  ╚═╝╚═╝╚═╝        ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`
