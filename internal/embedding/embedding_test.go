package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/resilience"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// nomicServer answers with a vector derived from the text and counts calls.
// Texts listed in failing always get a 500.
type nomicServer struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	failing  map[string]bool
}

func (s *nomicServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	var req nomicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Texts) != 1 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if s.failing[req.Texts[0]] {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"embeddings": [][]float32{{float32(len(req.Texts[0])), 0.5, -1}},
	})
}

type fixture struct {
	orch    *Orchestrator
	server  *nomicServer
	stores  *storage.Stores
	clock   *fakeClock
	metrics *metrics.Metrics
}

func testConfig() Config {
	return Config{
		BatchSize:        50,
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       5 * time.Millisecond,
		RequestTimeout:   2 * time.Second,
		BreakerThreshold: 100,
		BreakerReset:     time.Minute,
	}
}

func newFixture(t *testing.T, srv *nomicServer, cfg Config) *fixture {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	stores := storage.NewStores(storage.NewMemoryIndex(), storage.NewMemoryCache().WithClock(clk.Now), config.StorageConfig{
		DocumentIndex:  "documents",
		JobIndex:       "jobs",
		EmbeddingIndex: "document_embeddings",
		DocumentTTL:    time.Hour,
		JobTTL:         time.Hour,
		EmbeddingTTL:   24 * time.Hour,
	})
	require.NoError(t, stores.Init(context.Background()))

	providers, err := ProvidersFromConfig(map[string]config.ProviderConfig{
		"nomic": {URL: ts.URL, APIKey: "secret", Model: "nomic-embed-text-v1.5"},
	})
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	orch, err := NewOrchestrator(providers, NewClient(ts.Client()), stores.Embeddings, cfg,
		WithMetrics(m), WithClock(clk.Now))
	require.NoError(t, err)
	return &fixture{orch: orch, server: srv, stores: stores, clock: clk, metrics: m}
}

func makeChunks(texts ...string) []model.Chunk {
	chunks := make([]model.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = model.Chunk{
			ID:      "chunk-" + text,
			Content: text,
			Metadata: model.ChunkMetadata{
				Strategy:    "sentence",
				ChunkNumber: i + 1,
				TotalChunks: len(texts),
			},
		}
	}
	return chunks
}

func TestEmbedIsIdempotentPerChunkAndProvider(t *testing.T) {
	f := newFixture(t, &nomicServer{}, testConfig())
	ctx := context.Background()
	chunks := makeChunks("alpha", "beta")

	first, err := f.orch.Embed(ctx, chunks, "nomic", 0)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int32(2), f.server.calls.Load())

	second, err := f.orch.Embed(ctx, chunks, "nomic", 0)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, int32(2), f.server.calls.Load(), "second call must be served from cache")

	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
		assert.Equal(t, first[i].Provider, second[i].Provider)
		assert.Equal(t, first[i].Embedding, second[i].Embedding)
	}
	assert.Equal(t, []float32{5, 0.5, -1}, first[0].Embedding)
	assert.Equal(t, "nomic-embed-text-v1.5", first[0].Metadata["model"])

	stats := f.orch.Stats()
	assert.Equal(t, int64(2), stats.Successes)
	assert.Equal(t, int64(2), stats.CacheHits)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.EmbeddingsTotal.WithLabelValues("nomic", "cache_hit")))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.EmbeddingsTotal.WithLabelValues("nomic", "success")))
}

func TestEmbedUsesCacheKeyConvention(t *testing.T) {
	f := newFixture(t, &nomicServer{}, testConfig())
	_, err := f.orch.Embed(context.Background(), makeChunks("alpha"), "nomic", 0)
	require.NoError(t, err)
	assert.Equal(t, "embedding:nomic:chunk-alpha", f.stores.Embeddings.CacheKey(model.EmbeddingKey("nomic", "chunk-alpha")))

	cached, ok, err := f.stores.Embeddings.Cached(context.Background(), "nomic:chunk-alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{5, 0.5, -1}, cached.Embedding)
}

func TestEmbedRegeneratesAfterTTLExpiry(t *testing.T) {
	f := newFixture(t, &nomicServer{}, testConfig())
	ctx := context.Background()
	chunks := makeChunks("alpha")

	_, err := f.orch.Embed(ctx, chunks, "nomic", 0)
	require.NoError(t, err)
	f.clock.Advance(25 * time.Hour)
	out, err := f.orch.Embed(ctx, chunks, "nomic", 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int32(2), f.server.calls.Load())
}

func TestEmbedKeepsOrderAndOmitsExhaustedChunks(t *testing.T) {
	srv := &nomicServer{failing: map[string]bool{"bad": true}}
	f := newFixture(t, srv, testConfig())

	out, err := f.orch.Embed(context.Background(), makeChunks("a", "bb", "bad", "dddd", "eeeee"), "nomic", 2)
	require.NoError(t, err)
	require.Len(t, out, 4)

	var ids []string
	for _, e := range out {
		ids = append(ids, e.ChunkID)
	}
	assert.Equal(t, []string{"chunk-a", "chunk-bb", "chunk-dddd", "chunk-eeeee"}, ids)
	// four successes plus three attempts on the failing chunk
	assert.Equal(t, int32(7), srv.calls.Load())
	assert.Equal(t, int64(1), f.orch.Stats().Failures)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.EmbeddingsTotal.WithLabelValues("nomic", "failure")))
}

func TestEmbedBoundsConcurrencyByBatchSize(t *testing.T) {
	srv := &nomicServer{delay: 20 * time.Millisecond}
	f := newFixture(t, srv, testConfig())

	out, err := f.orch.Embed(context.Background(), makeChunks("a", "b", "c", "d", "e", "f", "g"), "nomic", 3)
	require.NoError(t, err)
	assert.Len(t, out, 7)
	assert.LessOrEqual(t, srv.maxSeen.Load(), int32(3))
}

func TestEmbedEmptyInput(t *testing.T) {
	f := newFixture(t, &nomicServer{}, testConfig())
	out, err := f.orch.Embed(context.Background(), nil, "nomic", 0)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, int32(0), f.server.calls.Load())
}

func TestEmbedUnknownProvider(t *testing.T) {
	f := newFixture(t, &nomicServer{}, testConfig())
	_, err := f.orch.Embed(context.Background(), makeChunks("a"), "openai", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

type failingCache struct {
	*storage.MemoryCache
}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestEmbedStorageFailurePropagates(t *testing.T) {
	ts := httptest.NewServer(&nomicServer{})
	defer ts.Close()
	stores := storage.NewStores(storage.NewMemoryIndex(), failingCache{storage.NewMemoryCache()}, config.StorageConfig{
		EmbeddingIndex: "document_embeddings",
		EmbeddingTTL:   time.Hour,
	})
	providers, err := ProvidersFromConfig(map[string]config.ProviderConfig{"nomic": {URL: ts.URL}})
	require.NoError(t, err)
	orch, err := NewOrchestrator(providers, NewClient(ts.Client()), stores.Embeddings, testConfig())
	require.NoError(t, err)

	_, err = orch.Embed(context.Background(), makeChunks("a"), "nomic", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStorage))
}

func TestEmbedTextBypassesCache(t *testing.T) {
	f := newFixture(t, &nomicServer{}, testConfig())
	for range 2 {
		vec, err := f.orch.EmbedText(context.Background(), "query", "nomic")
		require.NoError(t, err)
		assert.Equal(t, []float32{5, 0.5, -1}, vec)
	}
	assert.Equal(t, int32(2), f.server.calls.Load())
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := &nomicServer{failing: map[string]bool{"boom": true}}
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.BreakerThreshold = 2
	f := newFixture(t, srv, cfg)

	for range 2 {
		_, err := f.orch.EmbedText(context.Background(), "boom", "nomic")
		require.Error(t, err)
	}
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(f.metrics.CircuitBreakerState.WithLabelValues("embedding-nomic")))

	_, err := f.orch.EmbedText(context.Background(), "fine", "nomic")
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestNewOrchestratorValidates(t *testing.T) {
	_, err := NewOrchestrator(nil, nil, nil, testConfig())
	assert.True(t, errors.Is(err, apperrors.ErrConfig))

	providers, err := ProvidersFromConfig(map[string]config.ProviderConfig{"nomic": {URL: "http://x"}})
	require.NoError(t, err)
	cfg := testConfig()
	cfg.BatchSize = 0
	_, err = NewOrchestrator(providers, nil, nil, cfg)
	assert.True(t, errors.Is(err, apperrors.ErrConfig))
}

func TestProvidersFromConfigRejectsUnknown(t *testing.T) {
	_, err := ProvidersFromConfig(map[string]config.ProviderConfig{"mystery": {URL: "http://x"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConfig))

	_, err = ProvidersFromConfig(map[string]config.ProviderConfig{"granite": {}})
	assert.True(t, errors.Is(err, apperrors.ErrConfig))
}

func TestNomicRequestShape(t *testing.T) {
	var gotAuth string
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2]]}`))
	}))
	defer ts.Close()

	p, err := NewProvider("nomic", config.ProviderConfig{URL: ts.URL, APIKey: "k1", Model: "m1"})
	require.NoError(t, err)
	vec, err := NewClient(ts.Client()).Fetch(context.Background(), p, "hello")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.Equal(t, "Bearer k1", gotAuth)
	assert.Equal(t, []any{"hello"}, got["texts"])
	assert.Equal(t, "m1", got["model"])
	assert.Equal(t, "search", got["task_type"])
}

func TestGraniteRequestShape(t *testing.T) {
	var gotKey, gotAuth string
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,2,3]}]}`))
	}))
	defer ts.Close()

	p, err := NewProvider("granite", config.ProviderConfig{URL: ts.URL, APIKey: "k2", Model: "granite-30m"})
	require.NoError(t, err)
	vec, err := NewClient(ts.Client()).Fetch(context.Background(), p, "hello")
	require.NoError(t, err)

	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, "k2", gotKey)
	assert.Empty(t, gotAuth)
	assert.Equal(t, "hello", got["input"])
	assert.Equal(t, "granite-30m", got["model"])
	assert.Equal(t, "float", got["encoding_format"])
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"server error", http.StatusServiceUnavailable, "try later", http.StatusServiceUnavailable},
		{"unauthorized", http.StatusUnauthorized, `{"detail":"bad key"}`, http.StatusUnauthorized},
		{"malformed body", http.StatusOK, `{"embeddings":`, http.StatusOK},
		{"empty vector", http.StatusOK, `{"embeddings":[]}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			p, err := NewProvider("nomic", config.ProviderConfig{URL: ts.URL})
			require.NoError(t, err)
			_, err = NewClient(ts.Client()).Fetch(context.Background(), p, "x")
			require.Error(t, err)

			var embErr *apperrors.EmbeddingError
			require.True(t, errors.As(err, &embErr))
			assert.Equal(t, "nomic", embErr.Provider)
			assert.Equal(t, tt.wantStatus, embErr.StatusCode)
			assert.True(t, errors.Is(err, apperrors.ErrEmbedding))
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	p, err := NewProvider("granite", config.ProviderConfig{URL: url})
	require.NoError(t, err)
	_, err = NewClient(nil).Fetch(context.Background(), p, "x")

	var embErr *apperrors.EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.Zero(t, embErr.StatusCode)
	assert.True(t, retryable(err))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&apperrors.EmbeddingError{Provider: "nomic", StatusCode: 500, Err: errors.New("x")}))
	assert.True(t, retryable(apperrors.ErrTimeout))
	assert.False(t, retryable(resilience.ErrCircuitOpen))
	assert.False(t, retryable(errors.New("encoding failed")))
}
