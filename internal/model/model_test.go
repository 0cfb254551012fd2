package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusProcessing))
	assert.True(t, StatusProcessing.CanTransition(StatusCompleted))
	assert.True(t, StatusProcessing.CanTransition(StatusFailed))
	assert.True(t, StatusFailed.CanTransition(StatusPending))
	assert.True(t, StatusCompleted.CanTransition(StatusPending))
	assert.True(t, StatusPending.CanTransition(StatusCancelled))

	assert.False(t, StatusProcessing.CanTransition(StatusPending))
	assert.False(t, StatusPending.CanTransition(StatusCompleted))
	assert.False(t, StatusCompleted.CanTransition(StatusFailed))

	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.False(t, DocumentStatus("archived").Valid())
}

func TestResetForReprocess(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := Document{
		ID:           "d1",
		Status:       StatusFailed,
		Chunks:       []Chunk{{ID: "c1"}},
		ErrorMessage: "boom",
		UpdatedAt:    created,
	}

	doc.ResetForReprocess(created.Add(time.Minute))
	assert.Equal(t, StatusPending, doc.Status)
	assert.Empty(t, doc.Chunks)
	assert.Empty(t, doc.ErrorMessage)
	assert.Equal(t, created.Add(time.Minute), doc.UpdatedAt)

	doc.ResetForReprocess(created)
	assert.Equal(t, created.Add(time.Minute), doc.UpdatedAt, "updated_at never moves backwards")
}

func TestDocumentContentIsOpaqueBytes(t *testing.T) {
	raw := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff}
	data, err := json.Marshal(Document{ID: "d1", Content: raw})
	require.NoError(t, err)

	var back Document
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, raw, back.Content)
}

func TestJobFinish(t *testing.T) {
	now := time.Now()
	j := Job{ID: "j1", Status: JobQueued}
	j.Start(now)
	assert.Equal(t, JobRunning, j.Status)
	require.NotNil(t, j.StartedAt)

	j.Finish(JobCompleted, 4, "", now.Add(time.Second))
	assert.Equal(t, 1.0, j.Progress)
	assert.Equal(t, 4, j.ProcessedItems)
	assert.True(t, j.Status.IsTerminal())
}

func TestEmbeddingKey(t *testing.T) {
	e := DocumentEmbedding{ChunkID: "c1", Provider: "nomic"}
	assert.Equal(t, "nomic:c1", e.StorageKey())
}
