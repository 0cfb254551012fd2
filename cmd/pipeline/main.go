// Command pipeline runs the document ingestion service.
//
// It serves the document, job, embedding and search API, runs the single
// ingestion consumer, and exposes Prometheus metrics on a separate port.
// With storage.backend "postgres" documents are kept in Postgres behind a
// Redis cache and vectors are searchable through pgvector; "memory" keeps
// everything in process and disables search.
//
// Usage:
//
//	go run ./cmd/pipeline [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/api"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/chunking"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/conversion"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/search"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting pipeline", "port", cfg.Server.Port, "storage", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("pipeline exited", "error", err)
		os.Exit(1)
	}
	slog.Info("pipeline stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}
	checker := health.NewChecker()

	var (
		index storage.Index
		cache storage.Cache
		db    *postgres.Client
	)
	switch cfg.Storage.Backend {
	case "postgres":
		var err error
		db, err = postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		rc, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			db.Close()
			return fmt.Errorf("connecting to redis: %w", err)
		}
		index = storage.NewPostgresIndex(db)
		cache = storage.NewRedisCache(rc)
		checker.Register("postgres", health.PingCheck(db))
		checker.Register("redis", health.PingCheck(rc))
		slog.Info("connected to postgres and redis")
	default:
		index = storage.NewMemoryIndex()
		cache = storage.NewMemoryCache()
	}

	stores := storage.NewStores(index, cache, cfg.Storage)
	defer stores.Close()
	if err := stores.Init(ctx); err != nil {
		return fmt.Errorf("initialising stores: %w", err)
	}

	engine, err := chunking.NewEngine(chunking.Config{
		ChunkSize:       cfg.Chunking.ChunkSize,
		ChunkOverlap:    cfg.Chunking.ChunkOverlap,
		DefaultStrategy: chunking.Strategy(cfg.Chunking.Strategy),
	}, chunking.WithMetrics(m))
	if err != nil {
		return err
	}

	deps := ingestion.Deps{
		Documents: stores.Documents,
		Jobs:      stores.Jobs,
		Converter: conversion.NewRegistry(),
		Chunker:   engine,
		Metrics:   m,
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentEvents)
		defer producer.Close()
		deps.Events = producer
		slog.Info("publishing document events", "topic", cfg.Kafka.Topics.DocumentEvents)
	}
	queue := ingestion.NewQueue(deps, ingestion.Config{StagingDir: cfg.Queue.StagingDir})
	checker.Register("ingestion-queue", health.ProbeCheck("consumer is not running", queue.Running))

	providers, err := embedding.ProvidersFromConfig(cfg.Embedding.Providers)
	if err != nil {
		return err
	}
	orchestrator, err := embedding.NewOrchestrator(providers, embedding.NewClient(nil), stores.Embeddings,
		embedding.ConfigFrom(cfg.Embedding), embedding.WithMetrics(m))
	if err != nil {
		return err
	}

	var searcher api.Searcher
	if db != nil {
		vectors := search.NewVectorIndex(db, cfg.Storage.VectorTable, cfg.Storage.EmbeddingDimension)
		if err := vectors.Init(ctx); err != nil {
			return err
		}
		searcher = search.NewService(orchestrator, vectors, storage.NewSearchCache(cache, cfg.Storage.SearchTTL), search.Config{
			DefaultProvider: cfg.Embedding.DefaultProvider,
			DefaultLimit:    cfg.Search.DefaultLimit,
			MaxResults:      cfg.Search.MaxResults,
		}, m)
	}

	h := api.New(queue, orchestrator, searcher, api.Config{
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
		DefaultProvider:  cfg.Embedding.DefaultProvider,
		DefaultBatchSize: cfg.Embedding.BatchSize,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(h, checker, m, cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// The consumer outlives the signal so Stop can let the current document
	// finish.
	if err := queue.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	defer func() {
		if err := queue.Stop(); err != nil {
			slog.Error("stopping ingestion queue failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("pipeline listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
