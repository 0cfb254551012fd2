package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/logger"
)

// DocumentReader loads documents. *ingestion.Queue satisfies it.
type DocumentReader interface {
	Get(ctx context.Context, docID string) (*model.Document, error)
}

// ChunkEmbedder embeds chunks. *embedding.Orchestrator satisfies it.
type ChunkEmbedder interface {
	Embed(ctx context.Context, chunks []model.Chunk, provider string, batchSize int) ([]model.DocumentEmbedding, error)
}

// VectorWriter persists vectors. *VectorIndex satisfies it.
type VectorWriter interface {
	DeleteDocument(ctx context.Context, docID string) (int64, error)
	Upsert(ctx context.Context, docID string, embeddings []model.DocumentEmbedding, contents map[string]string) error
}

// CacheInvalidator drops cached search results. *Service satisfies it.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) (int, error)
}

// Worker embeds documents as they complete and writes their vectors to the
// index. It consumes document lifecycle events.
type Worker struct {
	docs      DocumentReader
	embedder  ChunkEmbedder
	vectors   VectorWriter
	cache     CacheInvalidator
	provider  string
	batchSize int
	logger    *slog.Logger
}

func NewWorker(docs DocumentReader, embedder ChunkEmbedder, vectors VectorWriter, cache CacheInvalidator, provider string, batchSize int) *Worker {
	return &Worker{
		docs:      docs,
		embedder:  embedder,
		vectors:   vectors,
		cache:     cache,
		provider:  provider,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "embed-worker", "provider", provider),
	}
}

// HandleMessage is a kafka.MessageHandler. Events for documents that did not
// complete, or that were reprocessed since, are acknowledged and ignored.
func (w *Worker) HandleMessage(ctx context.Context, _ []byte, value []byte) error {
	ev, err := kafka.DecodeJSON[model.DocumentEvent](value)
	if err != nil {
		return fmt.Errorf("%w: %w", kafka.ErrSkip, err)
	}
	if ev.Status != model.StatusCompleted {
		return nil
	}
	ctx = logger.WithDocument(ctx, ev.DocID, ev.JobID)
	log := logger.FromContext(ctx)

	doc, err := w.docs.Get(ctx, ev.DocID)
	if errors.Is(err, apperrors.ErrDocumentNotFound) {
		return fmt.Errorf("%w: %w", kafka.ErrSkip, err)
	}
	if err != nil {
		return err
	}
	if doc.Status != model.StatusCompleted || doc.JobID() != ev.JobID {
		log.Info("ignoring event for a superseded run", "status", doc.Status)
		return nil
	}
	_, err = w.IndexDocument(ctx, doc)
	return err
}

// IndexDocument embeds every chunk of a COMPLETED document and replaces the
// document's vectors. It returns the number of vectors written.
func (w *Worker) IndexDocument(ctx context.Context, doc *model.Document) (int, error) {
	if doc.Status != model.StatusCompleted {
		return 0, apperrors.Concurrency("document %s is %s, not completed", doc.ID, doc.Status)
	}
	embeddings, err := w.embedder.Embed(ctx, doc.Chunks, w.provider, w.batchSize)
	if err != nil {
		return 0, err
	}
	removed, err := w.vectors.DeleteDocument(ctx, doc.ID)
	if err != nil {
		return 0, err
	}
	if err := w.vectors.Upsert(ctx, doc.ID, embeddings, chunkContents(doc)); err != nil {
		return 0, err
	}
	if w.cache != nil {
		if _, err := w.cache.Invalidate(ctx); err != nil {
			logger.FromContext(ctx).Warn("invalidating search cache failed", "error", err)
		}
	}
	logger.FromContext(ctx).Info("document vectors indexed",
		"chunks", len(doc.Chunks),
		"vectors", len(embeddings),
		"replaced", removed,
	)
	return len(embeddings), nil
}

func chunkContents(doc *model.Document) map[string]string {
	out := make(map[string]string, len(doc.Chunks))
	for _, c := range doc.Chunks {
		out[c.ID] = c.Content
	}
	return out
}
