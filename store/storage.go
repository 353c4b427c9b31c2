package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"medirag/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// VectorIndex is the read side used while serving requests.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, limit int) ([]types.ScoredDocument, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// IndexWriter replaces the whole index content. Only the offline loader
// writes; the serving process never does.
type IndexWriter interface {
	Rebuild(ctx context.Context, entries []types.IndexEntry) error
}

var (
	_ VectorIndex = (*PostgresStore)(nil)
	_ IndexWriter = (*PostgresStore)(nil)
)

type PostgresStore struct {
	pool   *pgxpool.Pool
	dim    int
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, dim int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:   pool,
		dim:    dim,
		logger: slog.Default(),
	}, nil
}

func (p *PostgresStore) Search(ctx context.Context, queryVec []float32, limit int) ([]types.ScoredDocument, error) {
	if len(queryVec) == 0 {
		return nil, errors.New("empty query vector")
	}
	if limit <= 0 {
		return nil, nil
	}

	vector := pgvector.NewVector(queryVec)

	// Name breaks distance ties so equal scores come back in a stable order.
	query := `
		SELECT id, name, content, source_path, 1 - (embedding <=> $1) AS score
		FROM documents
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1, name
		LIMIT $2
	`
	rows, err := p.pool.Query(ctx, query, vector, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]types.ScoredDocument, 0, limit)
	for rows.Next() {
		var doc types.ScoredDocument
		var sourcePath *string
		if err := rows.Scan(&doc.DocID, &doc.Name, &doc.Content, &sourcePath, &doc.Score); err != nil {
			return nil, err
		}
		if sourcePath != nil {
			doc.SourcePath = *sourcePath
		}
		p.logger.Debug("[SEARCH] document found", "name", doc.Name, "score", doc.Score)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, "SELECT count(*) FROM documents WHERE embedding IS NOT NULL").Scan(&n)
	return n, err
}

// Rebuild swaps the index content in a single transaction: readers see
// either the old set of documents or the new one.
func (p *PostgresStore) Rebuild(ctx context.Context, entries []types.IndexEntry) error {
	for _, e := range entries {
		if len(e.Embedding) != p.dim {
			return fmt.Errorf("document %q: embedding has %d dimensions, index expects %d", e.Name, len(e.Embedding), p.dim)
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "TRUNCATE documents"); err != nil {
		return fmt.Errorf("truncate documents: %w", err)
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO documents (id, name, content, source_path, attributes, embedding, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())`,
			e.DocID, e.Name, e.Content, e.SourcePath, e.Attributes, pgvector.NewVector(e.Embedding))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert documents: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.logger.Info("index rebuilt", "documents", len(entries))
	return nil
}

func (p *PostgresStore) createRagTables(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		source_path TEXT,
		attributes JSONB,
		updated_at TIMESTAMP WITH TIME ZONE,
		embedding vector(%d)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_embedding ON documents USING hnsw (embedding vector_cosine_ops);

	CREATE INDEX IF NOT EXISTS idx_documents_name ON documents(name);
	`, p.dim)
	_, err := p.pool.Exec(ctx, query)
	return err
}

// Init creates the schema. Called by the loader, never by the server.
func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createRagTables(ctx)
}

// Close закрывает пул подключений
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("Postgres connection pool is closed")
	}
	return nil
}
