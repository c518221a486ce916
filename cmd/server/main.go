package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamestats-service/internal/analytics"
	"github.com/gamestats-service/internal/config"
	"github.com/gamestats-service/internal/errtrack"
	"github.com/gamestats-service/internal/handler"
	"github.com/gamestats-service/internal/kafka"
	"github.com/gamestats-service/internal/postgres"
	"github.com/gamestats-service/internal/redis"
	"github.com/gamestats-service/internal/service"
	"github.com/gamestats-service/internal/webhook"
	"github.com/gamestats-service/internal/websocket"
	"github.com/gamestats-service/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	reporter := errtrack.NewLogReporter(logger)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	store, err := postgres.NewStore(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := store.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	cache, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer cache.Close()
	logger.Info("connected to Redis")

	lock := redis.NewLock(cache, logger)

	// Initialize the analytics store
	analyticsStore, err := analytics.NewStore(&cfg.Elastic, logger)
	if err != nil {
		logger.Error("failed to connect to Elasticsearch", "error", err)
		os.Exit(1)
	}
	if err := analyticsStore.EnsureIndex(ctx); err != nil {
		logger.Error("failed to prepare snapshot index", "error", err)
		os.Exit(1)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize services
	evaluator := service.NewMembershipEvaluator(store, logger)

	flusher := service.NewSnapshotFlusher(
		analyticsStore,
		lock,
		evaluator,
		cfg.Lock.TTL,
		cfg.Flush.MaxConcurrentChecks,
		reporter,
		logger,
	)

	notifiers := []service.Notifier{wsHub}
	if cfg.Webhook.Enabled {
		dispatcher := webhook.NewDispatcher(&cfg.Webhook, store, reporter, logger)
		notifiers = append(notifiers, dispatcher)
	}

	mutator := service.NewStatMutator(store, flusher, cache, reporter, logger, notifiers...)

	// Schedule the periodic flushes
	scheduler := worker.NewFlushScheduler(&cfg.Flush, logger)
	if cfg.Flush.Enabled {
		if err := scheduler.Register(flusher); err != nil {
			logger.Error("failed to schedule snapshot flush", "error", err)
			os.Exit(1)
		}
		scheduler.Start()
	}

	// Initialize Kafka consumer for high-load mutation ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, mutator, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(mutator, store, cache, analyticsStore, wsHub, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop scheduling and drain buffered snapshots
	if cfg.Flush.Enabled {
		scheduler.Stop(10 * time.Second)
	}
	flusher.Handle(shutdownCtx)

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
