package storage

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchKeyIsDeterministic(t *testing.T) {
	a, err := SearchKey(map[string]any{"provider": "nomic", "k": 5, "filters": map[string]any{"b": 1, "a": 2}})
	require.NoError(t, err)
	b, err := SearchKey(map[string]any{"filters": map[string]any{"a": 2, "b": 1}, "k": 5, "provider": "nomic"})
	require.NoError(t, err)
	c, err := SearchKey(map[string]any{"provider": "nomic", "k": 6})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "search_cache:"))
	assert.Len(t, strings.TrimPrefix(a, "search_cache:"), 64)
}

type hit struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	sc := NewSearchCache(NewMemoryCache(), time.Hour)
	params := map[string]any{"q": "vector", "k": 3}
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, err := GetOrCompute(context.Background(), sc, params, func(context.Context) ([]hit, error) {
				calls.Add(1)
				<-release
				return []hit{{ChunkID: "c1", Score: 0.9}}, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "c1", got[0].ChunkID)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())

	got, cached, err := GetOrCompute(context.Background(), sc, params, func(context.Context) ([]hit, error) {
		t.Fatal("should be served from cache")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, 0.9, got[0].Score)
}

func TestSearchCacheInvalidate(t *testing.T) {
	mem := NewMemoryCache()
	sc := NewSearchCache(mem, time.Hour)
	ctx := context.Background()
	sc.Set(ctx, map[string]any{"q": "a"}, []hit{{ChunkID: "1"}})
	sc.Set(ctx, map[string]any{"q": "b"}, []hit{{ChunkID: "2"}})
	require.NoError(t, mem.SetWithTTL(ctx, "doc:keep", []byte("{}"), time.Hour))

	n, err := sc.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var out []hit
	assert.False(t, sc.Get(ctx, map[string]any{"q": "a"}, &out))
	_, found, _ := mem.Get(ctx, "doc:keep")
	assert.True(t, found)

	hits, misses := sc.Stats()
	assert.Zero(t, hits)
	assert.Equal(t, int64(1), misses)
}
