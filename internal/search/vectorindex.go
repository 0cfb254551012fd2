package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/postgres"
)

// Match is one nearest-neighbour hit. Distance is the cosine distance
// reported by pgvector; smaller is closer.
type Match struct {
	ChunkID   string         `json:"chunk_id"`
	DocID     string         `json:"doc_id"`
	Provider  string         `json:"embedding_provider"`
	Content   string         `json:"content"`
	Distance  float64        `json:"distance"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// VectorIndex stores chunk embeddings in a pgvector column keyed by
// (chunk_id, provider).
type VectorIndex struct {
	db        *postgres.Client
	table     string
	dimension int
	logger    *slog.Logger
}

func NewVectorIndex(db *postgres.Client, table string, dimension int) *VectorIndex {
	return &VectorIndex{
		db:        db,
		table:     table,
		dimension: dimension,
		logger:    slog.Default().With("component", "vector-index", "table", table),
	}
}

// Init creates the extension, the table and its HNSW cosine index.
func (v *VectorIndex) Init(ctx context.Context) error {
	t := pq.QuoteIdentifier(v.table)
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id   TEXT NOT NULL,
			provider   TEXT NOT NULL,
			doc_id     TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL DEFAULT '',
			embedding  vector(%d) NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chunk_id, provider)
		)`, t, v.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pq.QuoteIdentifier(v.table+"_embedding_idx"), t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (doc_id)`,
			pq.QuoteIdentifier(v.table+"_doc_id_idx"), t),
	}
	err := v.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Storage("initialising vector index "+v.table, err)
	}
	return nil
}

// Upsert writes the embeddings of one document's chunks. contents maps
// chunk ids to their text and may be nil.
func (v *VectorIndex) Upsert(ctx context.Context, docID string, embeddings []model.DocumentEmbedding, contents map[string]string) error {
	if len(embeddings) == 0 {
		return nil
	}
	for _, e := range embeddings {
		if len(e.Embedding) != v.dimension {
			return apperrors.Validation("embedding for chunk %s has dimension %d, index expects %d", e.ChunkID, len(e.Embedding), v.dimension)
		}
	}
	query := fmt.Sprintf(`INSERT INTO %s (chunk_id, provider, doc_id, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chunk_id, provider) DO UPDATE SET
			doc_id = EXCLUDED.doc_id,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at`, pq.QuoteIdentifier(v.table))

	err := v.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range embeddings {
			meta, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("encoding metadata for chunk %s: %w", e.ChunkID, err)
			}
			if _, err := stmt.ExecContext(ctx, e.ChunkID, e.Provider, docID, contents[e.ChunkID],
				pgvector.NewVector(e.Embedding), meta, e.CreatedAt); err != nil {
				return fmt.Errorf("upserting chunk %s: %w", e.ChunkID, err)
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Storage("upserting vectors for "+docID, err)
	}
	v.logger.Debug("vectors upserted", "doc_id", docID, "count", len(embeddings))
	return nil
}

// DeleteDocument removes every vector of a document, under any provider.
func (v *VectorIndex) DeleteDocument(ctx context.Context, docID string) (int64, error) {
	res, err := v.db.DB.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE doc_id = $1`, pq.QuoteIdentifier(v.table)), docID)
	if err != nil {
		return 0, apperrors.Storage("deleting vectors for "+docID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Nearest returns the k vectors of provider closest to vec, optionally
// restricted to one document. Ordering is left to the database.
func (v *VectorIndex) Nearest(ctx context.Context, vec []float32, provider, docID string, k int) ([]Match, error) {
	if len(vec) != v.dimension {
		return nil, apperrors.Validation("query vector has dimension %d, index expects %d", len(vec), v.dimension)
	}
	rows, err := v.db.DB.QueryContext(ctx, fmt.Sprintf(`
SELECT chunk_id, doc_id, provider, content, metadata, created_at, embedding <=> $1::vector AS distance
FROM %s
WHERE provider = $2 AND ($3 = '' OR doc_id = $3)
ORDER BY embedding <=> $1::vector
LIMIT $4`, pq.QuoteIdentifier(v.table)), pgvector.NewVector(vec), provider, docID, k)
	if err != nil {
		return nil, apperrors.Storage("querying nearest vectors", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m    Match
			meta []byte
		)
		if err := rows.Scan(&m.ChunkID, &m.DocID, &m.Provider, &m.Content, &meta, &m.CreatedAt, &m.Distance); err != nil {
			return nil, apperrors.Storage("scanning nearest vectors", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				v.logger.Warn("ignoring undecodable vector metadata", "chunk_id", m.ChunkID, "error", err)
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("iterating nearest vectors", err)
	}
	return matches, nil
}
