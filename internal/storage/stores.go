package storage

import (
	"context"
	"errors"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/config"
)

// Cache key prefixes. They are shared with other consumers of the cache and
// must not change.
const (
	DocumentPrefix    = "doc:"
	JobPrefix         = "job:"
	EmbeddingPrefix   = "embedding:"
	SearchCachePrefix = "search_cache:"
)

// Stores bundles the three cache-aside stores built over one pair of
// collaborators.
type Stores struct {
	Documents  *Store[model.Document]
	Jobs       *Store[model.Job]
	Embeddings *Store[model.DocumentEmbedding]

	index Index
	cache Cache
}

func NewStores(index Index, cache Cache, cfg config.StorageConfig) *Stores {
	return &Stores{
		Documents: New(index, cache, Options[model.Document]{
			Index:  cfg.DocumentIndex,
			Prefix: DocumentPrefix,
			TTL:    cfg.DocumentTTL,
			Mapping: Mapping{
				"status":       "keyword",
				"content_type": "keyword",
				"created_at":   "date",
			},
		}),
		Jobs: New(index, cache, Options[model.Job]{
			Index:  cfg.JobIndex,
			Prefix: JobPrefix,
			TTL:    cfg.JobTTL,
			Mapping: Mapping{
				"status":   "keyword",
				"job_type": "keyword",
			},
		}),
		Embeddings: New(index, cache, Options[model.DocumentEmbedding]{
			Index:  cfg.EmbeddingIndex,
			Prefix: EmbeddingPrefix,
			TTL:    cfg.EmbeddingTTL,
			Mapping: Mapping{
				"chunk_id":           "keyword",
				"embedding_provider": "keyword",
			},
		}),
		index: index,
		cache: cache,
	}
}

// Init creates all three durable indexes.
func (s *Stores) Init(ctx context.Context) error {
	if err := s.Documents.Init(ctx); err != nil {
		return err
	}
	if err := s.Jobs.Init(ctx); err != nil {
		return err
	}
	return s.Embeddings.Init(ctx)
}

// Close releases the shared collaborators once.
func (s *Stores) Close() error {
	return errors.Join(s.index.Close(), s.cache.Close())
}
