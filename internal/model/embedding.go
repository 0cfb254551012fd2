package model

import (
	"time"
)

// DocumentEmbedding is the vector for one chunk under one provider. At most
// one is current per (chunk, provider) pair.
type DocumentEmbedding struct {
	ChunkID   string         `json:"chunk_id"`
	Provider  string         `json:"embedding_provider"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// EmbeddingKey is the storage key of an embedding, without the cache prefix.
func EmbeddingKey(provider, chunkID string) string {
	return provider + ":" + chunkID
}

func (e DocumentEmbedding) StorageKey() string { return EmbeddingKey(e.Provider, e.ChunkID) }

// DocumentEvent is published when a document leaves the processing stage.
type DocumentEvent struct {
	DocID      string         `json:"doc_id"`
	JobID      string         `json:"job_id"`
	Status     DocumentStatus `json:"status"`
	ChunkCount int            `json:"chunk_count"`
	Error      string         `json:"error,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
