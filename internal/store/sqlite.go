// Package store provides document storage backends for MindWatch.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists documents in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// AddDocument inserts a document into the named collection.
func (s *SQLiteStore) AddDocument(ctx context.Context, collection string, doc Document) error {
	metadataJSON, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, document, metadata) VALUES (?, ?, ?, ?)`,
		doc.ID, collection, string(doc.Document), metadataJSON)
	if err != nil {
		slog.Error("SQLiteStore AddDocument failed", "error", err, "collection", collection, "id", doc.ID)
		return fmt.Errorf("failed to insert document %s into %s: %w", doc.ID, collection, err)
	}
	slog.Debug("SQLiteStore AddDocument succeeded", "collection", collection, "id", doc.ID)
	return nil
}

// ListDocuments returns every document in the named collection.
func (s *SQLiteStore) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document, metadata FROM documents WHERE collection = ?`, collection)
	if err != nil {
		slog.Error("SQLiteStore ListDocuments query failed", "error", err, "collection", collection)
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			slog.Error("SQLiteStore ListDocuments scan failed", "error", err, "collection", collection)
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListDocuments rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate document rows: %w", err)
	}
	slog.Debug("SQLiteStore ListDocuments succeeded", "collection", collection, "count", len(docs))
	return docs, nil
}

// ClearCollection deletes all documents in a collection (for tests).
func (s *SQLiteStore) ClearCollection(ctx context.Context, collection string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, collection)
	if err != nil {
		slog.Error("SQLiteStore ClearCollection failed", "error", err, "collection", collection)
		return err
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// marshalMetadata encodes the metadata sidecar, nil for empty maps.
func marshalMetadata(metadata map[string]string) (interface{}, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	jsonBytes, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(jsonBytes), nil
}

// scanDocument scans a Document from sql.Rows.
func scanDocument(rows *sql.Rows) (Document, error) {
	var doc Document
	var documentJSON string
	var metadataJSON sql.NullString
	if err := rows.Scan(&doc.ID, &documentJSON, &metadataJSON); err != nil {
		return doc, fmt.Errorf("scan document failed: %w", err)
	}
	doc.Document = json.RawMessage(documentJSON)
	if metadataJSON.Valid && metadataJSON.String != "" {
		doc.Metadata = make(map[string]string)
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return doc, fmt.Errorf("failed to unmarshal metadata for %s: %w", doc.ID, err)
		}
	}
	return doc, nil
}
