// Package storage implements the cache-aside persistence layer shared by
// documents, jobs and embeddings, on top of a durable index (Postgres) and an
// ephemeral cache (Redis). In-memory implementations of both are provided for
// tests and single-process deployments.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Index.UpdateFields when the key does not exist.
var ErrNotFound = errors.New("record not found")

// Mapping declares the record fields the durable index should make
// queryable, keyed by field name with a type hint ("keyword", "date").
type Mapping map[string]string

// Index is the durable, authoritative record store.
type Index interface {
	CreateIndex(ctx context.Context, name string, mapping Mapping) error
	ExistsIndex(ctx context.Context, name string) (bool, error)
	IndexOrUpdate(ctx context.Context, name, key string, record []byte) error
	// GetByKey reports found=false, with a nil error, for a missing key.
	GetByKey(ctx context.Context, name, key string) (record []byte, found bool, err error)
	// UpdateFields merges fields into the top level of the stored record.
	UpdateFields(ctx context.Context, name, key string, fields map[string]any) error
	Close() error
}

// Cache is the ephemeral key-value store in front of an Index.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent writes only when the key is absent and reports whether it did.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Replace overwrites an existing entry and keeps its remaining TTL. It
	// reports false, and writes nothing, when the key is absent.
	Replace(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	ScanByPattern(ctx context.Context, pattern string) ([]string, error)
	Close() error
}
