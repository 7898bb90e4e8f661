package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements VectorStore on Postgres with the pgvector
// extension. Search orders by vector distance, so the returned Score is a
// distance, lower is closer.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool to the given Postgres URL.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect to Postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// CreateSchema ensures the pgvector extension and the documents table exist.
// dimensions must match the embedding model in use.
func (ps *PostgresStore) CreateSchema(ctx context.Context, dimensions int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, dimensions),
	}
	for _, stmt := range statements {
		if _, err := ps.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (ps *PostgresStore) Add(ctx context.Context, content string, embedding []float32) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO documents (content, embedding) VALUES ($1, $2::vector);`,
		content, vectorLiteral(embedding))
	return err
}

func (ps *PostgresStore) Search(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredDocument, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, content, (embedding <-> $1::vector) AS distance
		FROM documents
		ORDER BY embedding <-> $1::vector
		LIMIT $2;
	`, vectorLiteral(queryEmbedding), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []ScoredDocument
	for rows.Next() {
		var doc ScoredDocument
		if err := rows.Scan(&doc.ID, &doc.Content, &doc.Score); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Close releases the connection pool.
func (ps *PostgresStore) Close() {
	if ps.pool != nil {
		ps.pool.Close()
	}
}

// vectorLiteral renders a []float32 as a pgvector input literal, "[1,2,3]".
func vectorLiteral(embedding []float32) string {
	// json.Marshal renders a nil slice as "null", which pgvector rejects.
	if len(embedding) == 0 {
		return "[]"
	}
	encoded, _ := json.Marshal(embedding)
	return "[" + strings.Trim(string(encoded), "[]") + "]"
}
