package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"driftsync.app/core/common/id"
	"driftsync.app/core/common/logger"
	"driftsync.app/core/common/otel"
	"driftsync.app/core/core/config"
	"driftsync.app/core/core/db"
	"driftsync.app/core/internal/bus"
	"driftsync.app/core/internal/health"
	"driftsync.app/core/internal/http/handler"
	"driftsync.app/core/internal/http/middleware"
	httprouter "driftsync.app/core/internal/http/router"
	"driftsync.app/core/internal/inbox"
	"driftsync.app/core/internal/queue"
	"driftsync.app/core/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet, OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "driftsync server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
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
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Dispatch.Stream)

	producer := queue.NewRedisProducer(redisClient, cfg.Dispatch.Stream, slog.Default())
	defer producer.Close()

	stores := store.NewStores(database.Pool())
	txRunner := store.NewTxRunner(database)
	eventBus := bus.New()

	validator, err := inbox.NewValidator(rules, filepath.Dir(cfg.RulesPath))
	if err != nil {
		slog.ErrorContext(ctx, "failed to build payload validator", "error", err)
		os.Exit(1)
	}

	queueSvc := queue.NewService(stores, txRunner, eventBus, rules, producer, slog.Default())
	inboxSvc := inbox.NewService(stores, validator, queueSvc, slog.Default())

	// The monitor's sweep loop lives in the worker binary; here it only
	// backs the alert triage endpoints.
	monitor := health.NewMonitor(stores, queueSvc, eventBus, nil, cfg.Health.Interval, slog.Default())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, inboxSvc, queueSvc, monitor, eventBus, stores)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, inboxSvc *inbox.Service, queueSvc *queue.Service, monitor *health.Monitor, eventBus *bus.Bus, stores store.StoreProvider) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	webhook := handler.NewWebhookHandler(
		inboxSvc,
		handler.NewSignatureVerifier(cfg.Ingest.WebhookSecret),
		cfg.Ingest.SignatureHeader,
		cfg.Ingest.TraceHeaderName,
	)
	dashboard := handler.NewDashboardHandler(queueSvc, inboxSvc, monitor, eventBus, stores)

	httprouter.SetupRoutes(router, webhook, dashboard, httprouter.RouterConfig{
		AdminAPIKey:  cfg.AdminAPIKey,
		IsProduction: cfg.IsProduction(),
	})

	return router
}

const banner = `
██████╗ ██████╗ ██╗███████╗████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔══██╗██╔══██╗██║██╔════╝╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║  ██║██████╔╝██║█████╗     ██║   ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║  ██║██╔══██╗██║██╔══╝     ██║   ╚════██║  ╚██╔╝  ██║╚██╗██║██║
██████╔╝██║  ██║██║██║        ██║   ███████║   ██║   ██║ ╚████║╚██████╗
╚═════╝ ╚═╝  ╚═╝╚═╝╚═╝        ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`
