package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"project/internal/ack"
	"project/internal/api"
	"project/internal/application/factories/infrastructure"
	"project/internal/config"
	"project/internal/consume"
	"project/internal/dedup"
	"project/internal/dispatch"
	"project/internal/inventory"
	"project/internal/sched"

	"project/internal/infrastructure/kafka"
	"project/internal/infrastructure/postgres"

	"golang.org/x/sync/errgroup"
)

func main() {
	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Infrastructure (Postgres, Redis). Startup connectivity is the one
	// fatal condition: the factory retries a bounded number of times and
	// the process refuses to start past that.
	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	redisClient, err := infraFactory.Redis(ctx)
	if err != nil {
		// cache is optional; lookups fall through to postgres
		logger.Warn("failed to connect to redis, product cache disabled", "error", err)
		redisClient = nil
	}

	// Stores and repositories
	ledgerRepo := postgres.NewLedgerRepository(pgPool)
	productRepo := postgres.NewProductRepository(pgPool)
	store := inventory.NewStore(productRepo, redisClient)

	// Pipeline pieces shared across workers
	cache := dedup.New(cfg.Cache.Size, cfg.Cache.TTL)
	table := dispatch.NewTableWithHandlers(store, logger)
	ackClient := ack.NewClient(cfg.Ack.BaseURL, cfg.App.Name, cfg.Ack.Timeout)
	monitor := consume.NewMonitor(consume.ConfigEcho{
		Topic:       cfg.Kafka.Topic,
		GroupID:     cfg.Kafka.GroupID,
		Concurrency: cfg.Kafka.Concurrency,
		MaxAttempts: cfg.Kafka.MaxAttempts,
		Backoff:     cfg.Kafka.Backoff,
		DeadLetter:  cfg.Kafka.DeadLetter,
	})
	policy := consume.RedeliveryPolicy{
		MaxAttempts: cfg.Kafka.MaxAttempts,
		Backoff:     cfg.Kafka.Backoff,
		DeadLetter:  cfg.Kafka.DeadLetter,
	}

	var deadLetter consume.DeadLetterPublisher
	if cfg.Kafka.DeadLetter {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic + cfg.Kafka.DeadLetterSuffix,
		})
		defer producer.Close()
		deadLetter = producer
	}

	g, gctx := errgroup.WithContext(ctx)

	// HTTP surface: health, ledger summary, monitor snapshot, metrics
	handlers := api.NewHandlers(ledgerRepo, monitor)
	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: api.NewRouter(handlers),
	}
	g.Go(func() error {
		logger.Info("health server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Consumer workers: each owns a reader in the same group, so the
	// broker spreads partitions across them and rebalances on join/leave.
	concurrency := cfg.Kafka.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	logger.Info("inventory consumer starting", "topic", cfg.Kafka.Topic,
		"group_id", cfg.Kafka.GroupID, "concurrency", concurrency)

	for i := 0; i < concurrency; i++ {
		worker := i
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
		loop := consume.NewLoop(consumer, ledgerRepo, cache, table, ackClient,
			monitor, policy, deadLetter, logger.With("worker", worker))
		g.Go(func() error {
			defer consumer.Close()
			return loop.Run(gctx)
		})
	}

	// Reconciliation scheduler
	reconciler := sched.NewReconciler(ledgerRepo, ackClient,
		cfg.Retry.Interval, cfg.Retry.Cooldown, cfg.Retry.MaxAttempts, logger)
	g.Go(func() error {
		return reconciler.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("consumer exited")
}
