package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/postgres"
)

// PostgresIndex keeps each index as a table of JSONB records keyed by a text
// primary key.
type PostgresIndex struct {
	client *postgres.Client
}

func NewPostgresIndex(client *postgres.Client) *PostgresIndex {
	return &PostgresIndex{client: client}
}

func (p *PostgresIndex) CreateIndex(ctx context.Context, name string, mapping Mapping) error {
	table := pq.QuoteIdentifier(name)
	fields := make([]string, 0, len(mapping))
	for field := range mapping {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	return p.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	record JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, table)); err != nil {
			return fmt.Errorf("creating table %s: %w", name, err)
		}
		for _, field := range fields {
			idx := pq.QuoteIdentifier(name + "_" + field + "_idx")
			stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ((record->>%s))`,
				idx, table, pq.QuoteLiteral(field))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("indexing field %s on %s: %w", field, name, err)
			}
		}
		return nil
	})
}

func (p *PostgresIndex) ExistsIndex(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := p.client.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)`,
		name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", name, err)
	}
	return exists, nil
}

func (p *PostgresIndex) IndexOrUpdate(ctx context.Context, name, key string, record []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, record, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET record = EXCLUDED.record, updated_at = NOW()`, pq.QuoteIdentifier(name))
	if _, err := p.client.DB.ExecContext(ctx, query, key, record); err != nil {
		return fmt.Errorf("upserting %s/%s: %w", name, key, err)
	}
	return nil
}

func (p *PostgresIndex) GetByKey(ctx context.Context, name, key string) ([]byte, bool, error) {
	query := fmt.Sprintf(`SELECT record FROM %s WHERE key = $1`, pq.QuoteIdentifier(name))
	var record []byte
	err := p.client.DB.QueryRowContext(ctx, query, key).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s/%s: %w", name, key, err)
	}
	return record, true, nil
}

func (p *PostgresIndex) UpdateFields(ctx context.Context, name, key string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET record = record || $2::jsonb, updated_at = NOW() WHERE key = $1`,
		pq.QuoteIdentifier(name))
	res, err := p.client.DB.ExecContext(ctx, query, key, patch)
	if err != nil {
		return fmt.Errorf("patching %s/%s: %w", name, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("patching %s/%s: %w", name, key, err)
	}
	if n == 0 {
		return fmt.Errorf("patching %s/%s: %w", name, key, ErrNotFound)
	}
	return nil
}

func (p *PostgresIndex) Close() error {
	return p.client.Close()
}
