package search

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/postgres"
)

func newMockVectorIndex(t *testing.T, dim int) (*VectorIndex, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewVectorIndex(postgres.FromDB(db), "document_vectors", dim), mock
}

func TestVectorIndexInit(t *testing.T) {
	idx, mock := newMockVectorIndex(t, 4)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE EXTENSION IF NOT EXISTS vector`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "document_vectors" \(.*embedding\s+vector\(4\) NOT NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS "document_vectors_embedding_idx" ON "document_vectors" USING hnsw (embedding vector_cosine_ops)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS "document_vectors_doc_id_idx" ON "document_vectors" (doc_id)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, idx.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorIndexInitFailureIsStorageError(t *testing.T) {
	idx, mock := newMockVectorIndex(t, 4)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE EXTENSION IF NOT EXISTS vector`)).
		WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err := idx.Init(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStorage))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorIndexUpsert(t *testing.T) {
	idx, mock := newMockVectorIndex(t, 3)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	embeddings := []model.DocumentEmbedding{
		{ChunkID: "c1", Provider: "nomic", Embedding: []float32{1, 2, 3}, Metadata: map[string]any{"model": "m"}, CreatedAt: now},
		{ChunkID: "c2", Provider: "nomic", Embedding: []float32{4, 5, 6}, CreatedAt: now},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "document_vectors" (chunk_id, provider, doc_id, content, embedding, metadata, created_at)`))
	prep.ExpectExec().
		WithArgs("c1", "nomic", "d1", "first chunk", sqlmock.AnyArg(), []byte(`{"model":"m"}`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("c2", "nomic", "d1", "", sqlmock.AnyArg(), []byte(`null`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := idx.Upsert(context.Background(), "d1", embeddings, map[string]string{"c1": "first chunk"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorIndexUpsertRejectsWrongDimension(t *testing.T) {
	idx, mock := newMockVectorIndex(t, 3)
	err := idx.Upsert(context.Background(), "d1", []model.DocumentEmbedding{
		{ChunkID: "c1", Provider: "nomic", Embedding: []float32{1, 2}},
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorIndexDeleteDocument(t *testing.T) {
	idx, mock := newMockVectorIndex(t, 3)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "document_vectors" WHERE doc_id = $1`)).
		WithArgs("d1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := idx.DeleteDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorIndexNearest(t *testing.T) {
	idx, mock := newMockVectorIndex(t, 3)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"chunk_id", "doc_id", "provider", "content", "metadata", "created_at", "distance"}).
		AddRow("c2", "d1", "nomic", "closest", []byte(`{"chunk_number":2}`), created, 0.05).
		AddRow("c1", "d1", "nomic", "further", []byte(`{}`), created, 0.4)
	mock.ExpectQuery(`SELECT chunk_id, doc_id, provider, content, metadata, created_at, embedding <=> \$1::vector AS distance\s+FROM "document_vectors"`).
		WithArgs(sqlmock.AnyArg(), "nomic", "d1", 5).
		WillReturnRows(rows)

	matches, err := idx.Nearest(context.Background(), []float32{1, 0, 0}, "nomic", "d1", 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "c2", matches[0].ChunkID)
	assert.Equal(t, "closest", matches[0].Content)
	assert.InDelta(t, 0.05, matches[0].Distance, 1e-9)
	assert.Equal(t, float64(2), matches[0].Metadata["chunk_number"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorIndexNearestQueryFailure(t *testing.T) {
	idx, mock := newMockVectorIndex(t, 3)
	mock.ExpectQuery(`SELECT chunk_id`).WillReturnError(errors.New("connection reset"))

	_, err := idx.Nearest(context.Background(), []float32{1, 0, 0}, "nomic", "", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStorage))
}
