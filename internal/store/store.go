// Package store provides document storage backends for MindWatch.
//
// Persisted entities live in named collections of (id, document,
// metadata) triples. The store itself enforces no schema: documents are
// opaque JSON blobs and metadata is a flat key-value sidecar used for
// client-side filtering. Backends exist for SQLite (default), PostgreSQL
// and in-memory use.
package store

import (
	"context"
	"encoding/json"
	"strings"
)

// Document is one stored (id, document, metadata) triple.
type Document struct {
	ID       string            `json:"id"`
	Document json.RawMessage   `json:"document"`
	Metadata map[string]string `json:"metadata"`
}

// Store is the document store interface. There is no update or delete
// operation; all writes are independent appends.
type Store interface {
	// AddDocument inserts a document into the named collection,
	// creating the collection implicitly on first use.
	AddDocument(ctx context.Context, collection string, doc Document) error
	// ListDocuments returns every document in the named collection.
	ListDocuments(ctx context.Context, collection string) ([]Document, error)
	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is a PostgreSQL connection string or a SQLite file path.
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the store DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
