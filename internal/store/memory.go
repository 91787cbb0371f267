package store

import (
	"context"
	"sync"
)

// InMemoryStore is a simple in-memory document store used in tests and
// for running without a database.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{collections: make(map[string][]Document)}
}

// AddDocument appends a document to the named collection.
func (s *InMemoryStore) AddDocument(ctx context.Context, collection string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], doc)
	return nil
}

// ListDocuments returns a copy of the named collection.
func (s *InMemoryStore) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.collections[collection]
	out := make([]Document, len(docs))
	copy(out, docs)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
