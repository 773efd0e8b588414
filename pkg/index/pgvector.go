package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/types"
)

type PgvectorConfig struct {
	ConnString string
	// IVFLists builds an ivfflat index with this many lists when positive.
	// Without it queries are exact.
	IVFLists int
}

// PgvectorBackend stores each collection in its own table.
type PgvectorBackend struct {
	config PgvectorConfig
	pool   *pgxpool.Pool
}

func NewPgvectorBackend(ctx context.Context, config PgvectorConfig) (*PgvectorBackend, error) {
	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Enable pgvector extension
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	return &PgvectorBackend{config: config, pool: pool}, nil
}

func tableName(name string) string {
	return pgx.Identifier{"vec_" + name}.Sanitize()
}

func (p *PgvectorBackend) CreateCollection(ctx context.Context, name string, dim int) error {
	table := tableName(name)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	createTable := fmt.Sprintf(`
		CREATE TABLE %s (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			external_id BIGINT NOT NULL,
			source_id TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, table, dim)

	if _, err := tx.Exec(ctx, createTable); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P07" {
			return types.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create table: %w", err)
	}

	createSourceIndex := fmt.Sprintf(`CREATE INDEX ON %s (source_id)`, table)
	if _, err := tx.Exec(ctx, createSourceIndex); err != nil {
		return fmt.Errorf("failed to create source index: %w", err)
	}

	if p.config.IVFLists > 0 {
		createIndex := fmt.Sprintf(`
			CREATE INDEX ON %s
			USING ivfflat (embedding vector_l2_ops)
			WITH (lists = %d)`,
			table, p.config.IVFLists)

		if _, err := tx.Exec(ctx, createIndex); err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *PgvectorBackend) CollectionDim(ctx context.Context, name string) (int, error) {
	var dim int32
	err := p.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = to_regclass($1::text) AND attname = 'embedding'`,
		tableName(name)).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, types.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read collection dimension: %w", err)
	}
	return int(dim), nil
}

func (p *PgvectorBackend) DropCollection(ctx context.Context, name string) error {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tableName(name))); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	return nil
}

func (p *PgvectorBackend) Existing(ctx context.Context, name string, ids []string) ([]string, error) {
	query := fmt.Sprintf("SELECT id FROM %s WHERE id = ANY($1)", tableName(name))
	rows, err := p.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan ids: %w", err)
	}
	return found, nil
}

// Insert writes one chunk in a single transaction.
func (p *PgvectorBackend) Insert(ctx context.Context, name string, entries []Entry) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, external_id, source_id, embedding)
		VALUES ($1, $2, $3, $4)`,
		tableName(name))

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(stmt, e.ID, e.Metadata.ExternalID, e.Metadata.SourceID, pgvector.NewVector(e.Vector))
	}

	results := tx.SendBatch(ctx, batch)
	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert %s: %w", e.ID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *PgvectorBackend) Search(ctx context.Context, name string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	where := ""
	args := []any{pgvector.NewVector(vector), k}
	if filter != nil {
		// An empty array keeps ANY false for every row.
		sources := filter.Sources
		if sources == nil {
			sources = []string{}
		}
		where = "WHERE source_id = ANY($3)"
		args = append(args, sources)
	}

	query := fmt.Sprintf(`
		SELECT id, external_id, source_id, embedding <-> $1 AS distance
		FROM %s
		%s
		ORDER BY distance, seq
		LIMIT $2`,
		tableName(name), where)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var meta models.Metadata
		if err := rows.Scan(&h.ID, &meta.ExternalID, &meta.SourceID, &h.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		h.Metadata = meta
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return hits, nil
}

func (p *PgvectorBackend) Count(ctx context.Context, name string) (int, error) {
	var n int64
	query := fmt.Sprintf("SELECT count(*) FROM %s", tableName(name))
	if err := p.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return int(n), nil
}

func (p *PgvectorBackend) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
