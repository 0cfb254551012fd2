// Package model defines the entities that flow through the ingestion
// pipeline: documents, their chunks, processing jobs, and chunk embeddings.
package model

import (
	"time"
)

// DocumentStatus is the lifecycle state of a Document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
	StatusCancelled  DocumentStatus = "cancelled"
)

var documentTransitions = map[DocumentStatus][]DocumentStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusPending},
	StatusFailed:     {StatusPending},
	StatusCancelled:  {StatusPending},
}

// CanTransition reports whether the state machine permits moving from s to
// next. Moving back to pending from a terminal state is only done by an
// explicit reprocess.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	for _, allowed := range documentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s DocumentStatus) Valid() bool {
	_, ok := documentTransitions[s]
	return ok
}

// Document is an uploaded file and the chunks extracted from it. Content is
// kept as raw bytes and only interpreted by the conversion step.
type Document struct {
	ID           string         `json:"doc_id"`
	Filename     string         `json:"filename"`
	ContentType  string         `json:"content_type"`
	Content      []byte         `json:"content,omitempty"`
	Status       DocumentStatus `json:"status"`
	Chunks       []Chunk        `json:"chunks"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// StorageKey implements the key lookup used by the cache-aside store.
func (d Document) StorageKey() string { return d.ID }

// JobID returns the id of the job currently tracking this document.
func (d Document) JobID() string {
	id, _ := d.Metadata[MetaJobID].(string)
	return id
}

// ResetForReprocess clears the results of a previous run.
func (d *Document) ResetForReprocess(now time.Time) {
	d.Status = StatusPending
	d.Chunks = nil
	d.ErrorMessage = ""
	d.touch(now)
}

func (d *Document) touch(now time.Time) {
	if now.After(d.UpdatedAt) {
		d.UpdatedAt = now
	}
}

// Metadata keys written by the pipeline.
const (
	MetaJobID       = "job_id"
	MetaFormat      = "format"
	MetaTitle       = "title"
	MetaStrategy    = "chunking_strategy"
	MetaChunkCount  = "chunk_count"
	MetaSizeBytes   = "size_bytes"
	MetaReprocessed = "reprocess_count"
)

// Position locates a chunk within the source text, as rune offsets.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Chunk is an immutable, ordered piece of a document's extracted text.
type Chunk struct {
	ID         string        `json:"chunk_id"`
	Content    string        `json:"content"`
	PageNumber *int          `json:"page_number,omitempty"`
	Position   *Position     `json:"position,omitempty"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// ChunkMetadata records how a chunk was produced. ChunkNumber is 1-based.
type ChunkMetadata struct {
	Strategy    string   `json:"strategy"`
	ChunkNumber int      `json:"chunk_number"`
	TotalChunks int      `json:"total_chunks"`
	Headings    []string `json:"headings,omitempty"`
	IsFallback  bool     `json:"is_fallback,omitempty"`
}
