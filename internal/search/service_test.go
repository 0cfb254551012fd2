package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/metrics"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeEmbedder) EmbedText(_ context.Context, text, provider string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, provider+"/"+text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type nearestCall struct {
	provider string
	docID    string
	k        int
}

type fakeIndex struct {
	mu      sync.Mutex
	calls   []nearestCall
	matches []Match
}

func (f *fakeIndex) Nearest(_ context.Context, _ []float32, provider, docID string, k int) ([]Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, nearestCall{provider: provider, docID: docID, k: k})
	return f.matches, nil
}

func newTestService(t *testing.T, idx *fakeIndex) (*Service, *fakeEmbedder, *metrics.Metrics) {
	t.Helper()
	emb := &fakeEmbedder{}
	m := metrics.New(prometheus.NewRegistry())
	cache := storage.NewSearchCache(storage.NewMemoryCache(), time.Hour)
	svc := NewService(emb, idx, cache, Config{DefaultProvider: "nomic", DefaultLimit: 5, MaxResults: 20}, m)
	return svc, emb, m
}

func TestSearchRepeatedQueryIsServedFromCache(t *testing.T) {
	idx := &fakeIndex{matches: []Match{
		{ChunkID: "c1", DocID: "d1", Provider: "nomic", Content: "alpha", Distance: 0.1},
		{ChunkID: "c2", DocID: "d1", Provider: "nomic", Content: "beta", Distance: 0.3},
	}}
	svc, emb, m := newTestService(t, idx)
	ctx := context.Background()

	first, err := svc.Search(ctx, Query{Text: "  alpha  "})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "alpha", first.Query)
	assert.Equal(t, "nomic", first.Provider)
	require.Len(t, first.Matches, 2)

	second, err := svc.Search(ctx, Query{Text: "alpha", Provider: "nomic", K: 5})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Matches[0].ChunkID, second.Matches[0].ChunkID)
	assert.Equal(t, first.Matches[1].Content, second.Matches[1].Content)

	assert.Equal(t, 1, emb.count())
	assert.Len(t, idx.calls, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("hit")))

	hits, misses := svc.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.GreaterOrEqual(t, misses, int64(1))
}

func TestSearchDifferentParametersMiss(t *testing.T) {
	svc, emb, _ := newTestService(t, &fakeIndex{})
	ctx := context.Background()

	_, err := svc.Search(ctx, Query{Text: "alpha"})
	require.NoError(t, err)
	_, err = svc.Search(ctx, Query{Text: "alpha", K: 3})
	require.NoError(t, err)
	_, err = svc.Search(ctx, Query{Text: "alpha", Provider: "granite"})
	require.NoError(t, err)

	assert.Equal(t, 3, emb.count())
}

func TestSearchNormalizesLimitsAndFilters(t *testing.T) {
	idx := &fakeIndex{}
	svc, _, _ := newTestService(t, idx)
	ctx := context.Background()

	res, err := svc.Search(ctx, Query{Text: "q1", K: 500, Filters: map[string]string{FilterDocID: "d7"}})
	require.NoError(t, err)
	assert.NotNil(t, res.Matches)
	assert.Empty(t, res.Matches)

	_, err = svc.Search(ctx, Query{Text: "q2", K: -1, Filters: map[string]string{}})
	require.NoError(t, err)

	require.Len(t, idx.calls, 2)
	assert.Equal(t, nearestCall{provider: "nomic", docID: "d7", k: 20}, idx.calls[0])
	assert.Equal(t, nearestCall{provider: "nomic", docID: "", k: 5}, idx.calls[1])
}

func TestSearchValidation(t *testing.T) {
	svc, emb, _ := newTestService(t, &fakeIndex{})
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
	}{
		{"empty text", Query{Text: ""}},
		{"whitespace text", Query{Text: " \n\t "}},
		{"unknown filter", Query{Text: "q", Filters: map[string]string{"owner": "x", FilterDocID: "d1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Search(ctx, tt.query)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrValidation))
		})
	}
	assert.Zero(t, emb.count())
}

func TestSearchEmbeddingFailureIsNotCached(t *testing.T) {
	svc, emb, _ := newTestService(t, &fakeIndex{})
	emb.err = &apperrors.EmbeddingError{Provider: "nomic", StatusCode: 503, Err: errors.New("unavailable")}
	ctx := context.Background()

	_, err := svc.Search(ctx, Query{Text: "alpha"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrEmbedding))

	emb.err = nil
	res, err := svc.Search(ctx, Query{Text: "alpha"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, emb.count())
}

func TestInvalidateDropsCachedResults(t *testing.T) {
	svc, emb, _ := newTestService(t, &fakeIndex{})
	ctx := context.Background()

	_, err := svc.Search(ctx, Query{Text: "alpha"})
	require.NoError(t, err)
	_, err = svc.Search(ctx, Query{Text: "beta"})
	require.NoError(t, err)

	n, err := svc.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := svc.Search(ctx, Query{Text: "alpha"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 3, emb.count())
}
