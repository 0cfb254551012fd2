// Package search answers similarity queries over chunk embeddings. Queries
// are embedded with the same provider that produced the stored vectors, and
// results are memoized in the search cache.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/metrics"
)

// FilterDocID restricts a query to one document.
const FilterDocID = "doc_id"

// Embedder embeds query text. *embedding.Orchestrator satisfies it.
type Embedder interface {
	EmbedText(ctx context.Context, text, provider string) ([]float32, error)
}

// Index finds stored vectors. *VectorIndex satisfies it.
type Index interface {
	Nearest(ctx context.Context, vec []float32, provider, docID string, k int) ([]Match, error)
}

type Query struct {
	Text     string            `json:"query"`
	Provider string            `json:"provider,omitempty"`
	K        int               `json:"k,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
}

type Result struct {
	Query    string        `json:"query"`
	Provider string        `json:"provider"`
	Matches  []Match       `json:"matches"`
	Cached   bool          `json:"cached"`
	Took     time.Duration `json:"took_ns"`
}

type Config struct {
	DefaultProvider string
	DefaultLimit    int
	MaxResults      int
}

type Service struct {
	embedder Embedder
	index    Index
	cache    *storage.SearchCache
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(embedder Embedder, index Index, cache *storage.SearchCache, cfg Config, m *metrics.Metrics) *Service {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxResults < cfg.DefaultLimit {
		cfg.MaxResults = cfg.DefaultLimit
	}
	return &Service{
		embedder: embedder,
		index:    index,
		cache:    cache,
		cfg:      cfg,
		metrics:  m,
		logger:   slog.Default().With("component", "search"),
	}
}

// Search embeds q and returns the nearest chunks. Identical queries within
// the cache TTL are answered from the cache without calling the provider.
func (s *Service) Search(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	q, err := s.normalize(q)
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"query":    q.Text,
		"provider": q.Provider,
		"k":        q.K,
		"filters":  q.Filters,
	}
	matches, cached, err := storage.GetOrCompute(ctx, s.cache, params, func(ctx context.Context) ([]Match, error) {
		vec, err := s.embedder.EmbedText(ctx, q.Text, q.Provider)
		if err != nil {
			return nil, err
		}
		return s.index.Nearest(ctx, vec, q.Provider, q.Filters[FilterDocID], q.K)
	})
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []Match{}
	}

	took := time.Since(start)
	if s.metrics != nil {
		status := "miss"
		if cached {
			status = "hit"
		}
		s.metrics.SearchQueriesTotal.WithLabelValues(status).Inc()
		s.metrics.SearchLatency.WithLabelValues(status).Observe(took.Seconds())
	}
	return &Result{
		Query:    q.Text,
		Provider: q.Provider,
		Matches:  matches,
		Cached:   cached,
		Took:     took,
	}, nil
}

func (s *Service) normalize(q Query) (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, apperrors.Validation("query text is required")
	}
	if q.Provider == "" {
		q.Provider = s.cfg.DefaultProvider
	}
	switch {
	case q.K <= 0:
		q.K = s.cfg.DefaultLimit
	case q.K > s.cfg.MaxResults:
		q.K = s.cfg.MaxResults
	}
	if len(q.Filters) == 0 {
		q.Filters = nil
	}
	var unknown []string
	for key := range q.Filters {
		if key != FilterDocID {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return q, apperrors.Validation("unsupported search filters: %s", strings.Join(unknown, ", "))
	}
	return q, nil
}

// Invalidate drops every cached search result, typically after new vectors
// were written.
func (s *Service) Invalidate(ctx context.Context) (int, error) {
	return s.cache.Invalidate(ctx)
}

// CacheStats reports search cache hits and misses.
func (s *Service) CacheStats() (hits, misses int64) {
	return s.cache.Stats()
}
