package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
)

// Entity is anything the store can persist under its own key.
type Entity interface {
	StorageKey() string
}

// Options configures one Store instantiation.
type Options[T Entity] struct {
	// Index is the durable index (table) name.
	Index string
	// Prefix is prepended to the entity key to form the cache key.
	Prefix  string
	TTL     time.Duration
	Mapping Mapping
	// Codec defaults to JSONCodec.
	Codec Codec[T]
}

// Store is a cache-aside repository. The durable index is authoritative:
// writes go to it first and the cache is refreshed afterwards, reads try the
// cache and fall back to the index, filling the cache on the way out.
type Store[T Entity] struct {
	index  Index
	cache  Cache
	opts   Options[T]
	logger *slog.Logger
}

func New[T Entity](index Index, cache Cache, opts Options[T]) *Store[T] {
	if opts.Codec == nil {
		opts.Codec = JSONCodec[T]{}
	}
	return &Store[T]{
		index:  index,
		cache:  cache,
		opts:   opts,
		logger: slog.Default().With("component", "store", "index", opts.Index),
	}
}

// Init creates the durable index if it does not exist yet.
func (s *Store[T]) Init(ctx context.Context) error {
	exists, err := s.index.ExistsIndex(ctx, s.opts.Index)
	if err != nil {
		return apperrors.Storage("checking index "+s.opts.Index, err)
	}
	if exists {
		return nil
	}
	if err := s.index.CreateIndex(ctx, s.opts.Index, s.opts.Mapping); err != nil {
		return apperrors.Storage("creating index "+s.opts.Index, err)
	}
	s.logger.Info("index created")
	return nil
}

func (s *Store[T]) CacheKey(key string) string {
	return s.opts.Prefix + key
}

func (s *Store[T]) TTL() time.Duration {
	return s.opts.TTL
}

// Put writes the durable record, then refreshes the cache. If the cache write
// fails the stale entry is dropped so that readers fall through to the index.
func (s *Store[T]) Put(ctx context.Context, entity T) error {
	key := entity.StorageKey()
	data, err := s.opts.Codec.Encode(entity)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := s.index.IndexOrUpdate(ctx, s.opts.Index, key, data); err != nil {
		return apperrors.Storage("indexing "+key, err)
	}
	if err := s.cache.SetWithTTL(ctx, s.CacheKey(key), data, s.opts.TTL); err != nil {
		if delErr := s.cache.Delete(ctx, s.CacheKey(key)); delErr != nil {
			s.logger.Warn("dropping stale cache entry failed", "key", key, "error", delErr)
		}
		return apperrors.Storage("caching "+key, err)
	}
	return nil
}

// Get returns the entity for key, or found=false when neither the cache nor
// the index has it.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if v, ok, err := s.Cached(ctx, key); err != nil || ok {
		return v, ok, err
	}
	data, found, err := s.index.GetByKey(ctx, s.opts.Index, key)
	if err != nil {
		return zero, false, apperrors.Storage("reading "+key, err)
	}
	if !found {
		return zero, false, nil
	}
	v, err := s.opts.Codec.Decode(data)
	if err != nil {
		return zero, false, err
	}
	// Never overwrite: an entry written meanwhile is at least as new as data.
	if _, err := s.cache.SetIfAbsent(ctx, s.CacheKey(key), data, s.opts.TTL); err != nil {
		s.logger.Warn("cache fill failed", "key", key, "error", err)
	}
	return v, true, nil
}

// Cached consults the cache only. Embedding memoization relies on this so
// that an expired entry forces regeneration even though the index keeps it.
func (s *Store[T]) Cached(ctx context.Context, key string) (T, bool, error) {
	var zero T
	data, found, err := s.cache.Get(ctx, s.CacheKey(key))
	if err != nil {
		return zero, false, apperrors.Storage("cache read "+key, err)
	}
	if !found {
		return zero, false, nil
	}
	v, err := s.opts.Codec.Decode(data)
	if err != nil {
		s.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		_ = s.cache.Delete(ctx, s.CacheKey(key))
		return zero, false, nil
	}
	return v, true, nil
}

// UpdateStatus patches status, updated_at and error_message in the durable
// record, then patches a live cache entry in place rather than evicting it.
// When no entry is cached the updated record is cached, so that a reader
// still holding the previous record cannot fill the cache with it.
func (s *Store[T]) UpdateStatus(ctx context.Context, key, status, errorMessage string) error {
	fields := map[string]any{
		"status":        status,
		"updated_at":    time.Now().UTC(),
		"error_message": errorMessage,
	}
	if err := s.index.UpdateFields(ctx, s.opts.Index, key, fields); err != nil {
		return apperrors.Storage("updating status of "+key, err)
	}
	cacheKey := s.CacheKey(key)
	data, found, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		return apperrors.Storage("cache read "+key, err)
	}
	if !found {
		stored, err := s.fillFromIndex(ctx, key)
		if err != nil || stored {
			return err
		}
		if data, found, err = s.cache.Get(ctx, cacheKey); err != nil {
			return apperrors.Storage("cache read "+key, err)
		}
		if !found {
			return nil
		}
	}
	patched, err := s.opts.Codec.Patch(data, fields)
	if err != nil {
		_ = s.cache.Delete(ctx, cacheKey)
		return fmt.Errorf("patching cached %s: %w", key, err)
	}
	if _, err := s.cache.Replace(ctx, cacheKey, patched); err != nil {
		return apperrors.Storage("cache patch "+key, err)
	}
	return nil
}

// fillFromIndex caches the current durable record unless an entry appeared
// in the meantime. It reports whether it wrote the entry.
func (s *Store[T]) fillFromIndex(ctx context.Context, key string) (bool, error) {
	data, found, err := s.index.GetByKey(ctx, s.opts.Index, key)
	if err != nil {
		return false, apperrors.Storage("reading "+key, err)
	}
	if !found {
		return false, nil
	}
	stored, err := s.cache.SetIfAbsent(ctx, s.CacheKey(key), data, s.opts.TTL)
	if err != nil {
		return false, apperrors.Storage("cache fill "+key, err)
	}
	return stored, nil
}

// Evict drops the cache entry. The durable record is kept.
func (s *Store[T]) Evict(ctx context.Context, key string) error {
	if err := s.cache.Delete(ctx, s.CacheKey(key)); err != nil {
		return apperrors.Storage("evicting "+key, err)
	}
	return nil
}

// Close releases both collaborators. Stores that share collaborators should
// be closed through Stores.Close instead.
func (s *Store[T]) Close() error {
	ierr := s.index.Close()
	cerr := s.cache.Close()
	if ierr != nil {
		return ierr
	}
	return cerr
}
