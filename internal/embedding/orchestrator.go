// Package embedding turns chunks into vectors through hosted providers. Each
// (chunk, provider) pair is memoized in the embedding store, and provider
// calls are retried, timed out per attempt and guarded by a per-provider
// circuit breaker.
package embedding

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/resilience"
)

const (
	resultCacheHit = "cache_hit"
	resultSuccess  = "success"
	resultFailure  = "failure"
)

// Config bounds batching and the per-call fault handling.
type Config struct {
	BatchSize        int
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	RequestTimeout   time.Duration
	BreakerThreshold int
	BreakerReset     time.Duration
}

func ConfigFrom(cfg config.EmbeddingConfig) Config {
	return Config{
		BatchSize:        cfg.BatchSize,
		MaxAttempts:      cfg.MaxAttempts,
		InitialBackoff:   cfg.InitialBackoff,
		MaxBackoff:       cfg.MaxBackoff,
		RequestTimeout:   cfg.RequestTimeout,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerReset:     cfg.BreakerReset,
	}
}

// Stats counts outcomes since the orchestrator was built.
type Stats struct {
	CacheHits int64 `json:"cache_hits"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

type Orchestrator struct {
	providers map[string]Provider
	breakers  map[string]*resilience.CircuitBreaker
	client    *Client
	store     *storage.Store[model.DocumentEmbedding]
	cfg       Config
	retry     resilience.RetryConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	cacheHits atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
}

type Option func(*Orchestrator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the given providers to the embedding store. Every
// provider gets its own circuit breaker.
func NewOrchestrator(providers map[string]Provider, client *Client, store *storage.Store[model.DocumentEmbedding], cfg Config, opts ...Option) (*Orchestrator, error) {
	if len(providers) == 0 {
		return nil, apperrors.Config("no embedding providers configured")
	}
	if cfg.BatchSize <= 0 {
		return nil, apperrors.Config("embedding batch size must be positive, got %d", cfg.BatchSize)
	}
	if client == nil {
		client = NewClient(nil)
	}
	o := &Orchestrator{
		providers: providers,
		breakers:  make(map[string]*resilience.CircuitBreaker, len(providers)),
		client:    client,
		store:     store,
		cfg:       cfg,
		logger:    slog.Default().With("component", "embedding"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.retry = resilience.RetryConfig{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialBackoff,
		MaxDelay:     cfg.MaxBackoff,
		Multiplier:   2,
		Retryable:    retryable,
	}
	for name := range providers {
		o.breakers[name] = resilience.NewCircuitBreaker("embedding-"+name, resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.BreakerThreshold,
			ResetTimeout:     cfg.BreakerReset,
			OnStateChange:    o.recordBreakerState,
		})
	}
	return o, nil
}

func (o *Orchestrator) recordBreakerState(name string, _, to resilience.State) {
	if o.metrics != nil {
		o.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	}
}

// Providers lists the configured provider names in sorted order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for name := range o.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		CacheHits: o.cacheHits.Load(),
		Successes: o.successes.Load(),
		Failures:  o.failures.Load(),
	}
}

// Embed returns embeddings for chunks in their original order. Chunks are
// processed in windows of batchSize, concurrently within a window. Chunks
// whose provider calls are exhausted are logged and left out, so the result
// may be shorter than chunks. Storage failures abort the call.
func (o *Orchestrator) Embed(ctx context.Context, chunks []model.Chunk, providerName string, batchSize int) ([]model.DocumentEmbedding, error) {
	p, ok := o.providers[providerName]
	if !ok {
		return nil, apperrors.Validation("unknown embedding provider %q", providerName)
	}
	if batchSize <= 0 {
		batchSize = o.cfg.BatchSize
	}

	results := make([]*model.DocumentEmbedding, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				emb, ok, err := o.embedOne(ctx, chunks[i], p)
				if err != nil {
					return err
				}
				if ok {
					results[i] = &emb
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	out := make([]model.DocumentEmbedding, 0, len(chunks))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	if len(out) < len(chunks) {
		logger.FromContext(ctx).Warn("some chunks were not embedded",
			"provider", providerName,
			"requested", len(chunks),
			"embedded", len(out),
		)
	}
	return out, nil
}

// embedOne returns ok=false when the provider could not produce a vector.
func (o *Orchestrator) embedOne(ctx context.Context, chunk model.Chunk, p Provider) (model.DocumentEmbedding, bool, error) {
	key := model.EmbeddingKey(p.Name(), chunk.ID)
	if cached, ok, err := o.store.Cached(ctx, key); err != nil {
		return model.DocumentEmbedding{}, false, err
	} else if ok {
		o.cacheHits.Add(1)
		o.count(p.Name(), resultCacheHit)
		return cached, true, nil
	}

	start := o.now()
	vec, err := o.fetch(ctx, p, chunk.Content)
	if err != nil {
		o.failures.Add(1)
		o.count(p.Name(), resultFailure)
		logger.FromContext(ctx).Error("embedding failed after retries",
			"provider", p.Name(),
			"chunk_id", chunk.ID,
			"error", err,
		)
		return model.DocumentEmbedding{}, false, nil
	}

	emb := model.DocumentEmbedding{
		ChunkID:   chunk.ID,
		Provider:  p.Name(),
		Embedding: vec,
		Metadata: map[string]any{
			"model":        p.Model(),
			"dimension":    len(vec),
			"strategy":     chunk.Metadata.Strategy,
			"chunk_number": chunk.Metadata.ChunkNumber,
			"total_chunks": chunk.Metadata.TotalChunks,
		},
		CreatedAt: o.now().UTC(),
	}
	if err := o.store.Put(ctx, emb); err != nil {
		return model.DocumentEmbedding{}, false, err
	}
	if o.metrics != nil {
		o.metrics.EmbeddingLatency.WithLabelValues(p.Name()).Observe(o.now().Sub(start).Seconds())
	}
	o.successes.Add(1)
	o.count(p.Name(), resultSuccess)
	return emb, true, nil
}

// EmbedText embeds free text, such as a search query, without memoization.
func (o *Orchestrator) EmbedText(ctx context.Context, text, providerName string) ([]float32, error) {
	p, ok := o.providers[providerName]
	if !ok {
		return nil, apperrors.Validation("unknown embedding provider %q", providerName)
	}
	return o.fetch(ctx, p, text)
}

func (o *Orchestrator) fetch(ctx context.Context, p Provider, text string) ([]float32, error) {
	breaker := o.breakers[p.Name()]
	// An attempt abandoned by its timeout may still finish in the background.
	var vec atomic.Pointer[[]float32]
	err := resilience.Retry(ctx, "embed-"+p.Name(), o.retry, func() error {
		return breaker.Execute(func() error {
			return resilience.WithTimeout(ctx, o.cfg.RequestTimeout, "embed-"+p.Name(), func(ctx context.Context) error {
				v, err := o.client.Fetch(ctx, p, text)
				if err != nil {
					return err
				}
				vec.Store(&v)
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return *vec.Load(), nil
}

func (o *Orchestrator) count(provider, result string) {
	if o.metrics != nil {
		o.metrics.EmbeddingsTotal.WithLabelValues(provider, result).Inc()
	}
}

// retryable accepts transport failures and provider-signalled errors.
// An open breaker is not retried within the same call.
func retryable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var netErr net.Error
	return errors.Is(err, apperrors.ErrEmbedding) ||
		errors.Is(err, apperrors.ErrTimeout) ||
		errors.As(err, &netErr)
}
