// Package store provides document storage backends for MindWatch.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists documents in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// AddDocument inserts a document into the named collection.
func (s *PostgresStore) AddDocument(ctx context.Context, collection string, doc Document) error {
	metadataJSON, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, document, metadata) VALUES ($1, $2, $3, $4)`,
		doc.ID, collection, string(doc.Document), metadataJSON)
	if err != nil {
		slog.Error("PostgresStore AddDocument failed", "error", err, "collection", collection, "id", doc.ID)
		return fmt.Errorf("failed to insert document %s into %s: %w", doc.ID, collection, err)
	}
	slog.Debug("PostgresStore AddDocument succeeded", "collection", collection, "id", doc.ID)
	return nil
}

// ListDocuments returns every document in the named collection.
func (s *PostgresStore) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document, metadata FROM documents WHERE collection = $1`, collection)
	if err != nil {
		slog.Error("PostgresStore ListDocuments query failed", "error", err, "collection", collection)
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var documentJSON []byte
		var metadataJSON []byte
		if err := rows.Scan(&doc.ID, &documentJSON, &metadataJSON); err != nil {
			slog.Error("PostgresStore ListDocuments scan failed", "error", err, "collection", collection)
			return nil, fmt.Errorf("scan document failed: %w", err)
		}
		doc.Document = json.RawMessage(documentJSON)
		if len(metadataJSON) > 0 {
			doc.Metadata = make(map[string]string)
			if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", doc.ID, err)
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListDocuments rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate document rows: %w", err)
	}
	slog.Debug("PostgresStore ListDocuments succeeded", "collection", collection, "count", len(docs))
	return docs, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
