// Command embedder indexes completed documents for similarity search.
//
// It consumes document lifecycle events from Kafka. For every document that
// completed processing it embeds the chunks with the default provider and
// replaces the document's vectors in the pgvector table, then drops cached
// search results. It needs storage.backend "postgres" and Kafka enabled.
//
// Usage:
//
//	go run ./cmd/embedder [-config configs/development.yaml]
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/search"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/redis"
)

// storeReader adapts the document store to search.DocumentReader.
type storeReader struct {
	docs *storage.Store[model.Document]
}

func (r storeReader) Get(ctx context.Context, docID string) (*model.Document, error) {
	doc, ok, err := r.docs.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "document %s not found", docID)
	}
	return &doc, nil
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if cfg.Storage.Backend != "postgres" || !cfg.Kafka.Enabled {
		slog.Error("embedder needs the postgres storage backend and kafka",
			"storage", cfg.Storage.Backend, "kafka_enabled", cfg.Kafka.Enabled)
		os.Exit(1)
	}
	slog.Info("starting embedder", "provider", cfg.Embedding.DefaultProvider, "topic", cfg.Kafka.Topics.DocumentEvents)

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	rc, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		db.Close()
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	cache := storage.NewRedisCache(rc)
	stores := storage.NewStores(storage.NewPostgresIndex(db), cache, cfg.Storage)
	defer stores.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := stores.Init(ctx); err != nil {
		slog.Error("failed to initialise stores", "error", err)
		return
	}
	vectors := search.NewVectorIndex(db, cfg.Storage.VectorTable, cfg.Storage.EmbeddingDimension)
	if err := vectors.Init(ctx); err != nil {
		slog.Error("failed to initialise vector index", "error", err)
		return
	}

	providers, err := embedding.ProvidersFromConfig(cfg.Embedding.Providers)
	if err != nil {
		slog.Error("invalid embedding providers", "error", err)
		return
	}
	orchestrator, err := embedding.NewOrchestrator(providers, embedding.NewClient(nil), stores.Embeddings,
		embedding.ConfigFrom(cfg.Embedding), embedding.WithMetrics(m))
	if err != nil {
		slog.Error("failed to create orchestrator", "error", err)
		return
	}

	worker := search.NewWorker(
		storeReader{docs: stores.Documents},
		orchestrator,
		vectors,
		storage.NewSearchCache(cache, cfg.Storage.SearchTTL),
		cfg.Embedding.DefaultProvider,
		cfg.Embedding.BatchSize,
	)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentEvents, worker.HandleMessage)
	defer consumer.Close()

	slog.Info("embedder ready, consuming from kafka", "group", cfg.Kafka.ConsumerGroup)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}
	slog.Info("embedder stopped")
}
