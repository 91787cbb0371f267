// Package store provides document storage backends for MindWatch.
//
// This file contains the collection helpers shared by all backends:
// document decoding, client-side filtering and sorting, and the
// patient identity scan.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mindwatch-health/mindwatch/internal/models"
)

// DecodedDocument is a stored document with its JSON payload unpacked
// for client-side filtering.
type DecodedDocument struct {
	ID       string                 `json:"id"`
	Document map[string]interface{} `json:"document"`
	Metadata map[string]string      `json:"metadata"`
}

// DecodeDocuments unpacks the JSON payload of each document. A single
// malformed document fails the whole fetch; callers must tolerate or
// pre-validate.
func DecodeDocuments(docs []Document) ([]DecodedDocument, error) {
	decoded := make([]DecodedDocument, 0, len(docs))
	for _, doc := range docs {
		var payload map[string]interface{}
		if err := json.Unmarshal(doc.Document, &payload); err != nil {
			return nil, fmt.Errorf("malformed document %s: %w", doc.ID, err)
		}
		decoded = append(decoded, DecodedDocument{ID: doc.ID, Document: payload, Metadata: doc.Metadata})
	}
	return decoded, nil
}

// SortByTimestampDesc orders documents by their "timestamp" field,
// newest first. Entries with missing or unparseable timestamps sort to
// the end. The sort is stable so equal keys keep insertion order.
func SortByTimestampDesc(docs []DecodedDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		ti, oki := documentTimestamp(docs[i])
		tj, okj := documentTimestamp(docs[j])
		if oki != okj {
			return oki
		}
		if !oki {
			return false
		}
		return ti.After(tj)
	})
}

// FilterByUserID returns the documents whose metadata user_id matches.
func FilterByUserID(docs []DecodedDocument, userID string) []DecodedDocument {
	var out []DecodedDocument
	for _, doc := range docs {
		if doc.Metadata["user_id"] == userID {
			out = append(out, doc)
		}
	}
	return out
}

// documentTimestamp extracts and parses the document's timestamp field.
func documentTimestamp(doc DecodedDocument) (time.Time, bool) {
	raw, ok := doc.Document["timestamp"].(string)
	if !ok {
		return time.Time{}, false
	}
	return models.ParseTimestamp(raw)
}

// CreateOrGetPatient scans all existing patient documents for an exact
// match on both email and name, returning the existing id on match.
// Otherwise a new patient is inserted under a fresh uuid and created is
// true. The scan-then-insert is best effort: concurrent callers can
// still create duplicates (known race, documented, not coordinated).
func CreateOrGetPatient(ctx context.Context, s Store, email, name string) (string, bool, error) {
	if email == "" || name == "" {
		return "", false, fmt.Errorf("email and name are required")
	}

	docs, err := s.ListDocuments(ctx, models.CollectionPatients)
	if err != nil {
		return "", false, fmt.Errorf("failed to list patients: %w", err)
	}

	for _, doc := range docs {
		var p models.Patient
		if err := json.Unmarshal(doc.Document, &p); err != nil {
			slog.Warn("CreateOrGetPatient: skipping malformed patient document", "id", doc.ID, "error", err)
			continue
		}
		if p.Email == email && p.Name == name {
			slog.Debug("CreateOrGetPatient: existing patient matched", "id", doc.ID)
			return doc.ID, false, nil
		}
	}

	newID := uuid.NewString()
	payload, err := json.Marshal(models.Patient{Name: name, Email: email})
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal patient: %w", err)
	}
	if err := s.AddDocument(ctx, models.CollectionPatients, Document{ID: newID, Document: payload}); err != nil {
		return "", false, fmt.Errorf("failed to insert patient: %w", err)
	}
	slog.Info("CreateOrGetPatient: new patient created", "id", newID)
	return newID, true, nil
}

// SavePatientRecord persists a completed interview session once, with
// the patient identity fields as metadata.
func SavePatientRecord(ctx context.Context, s Store, record models.PatientRecord, meta models.PatientMeta) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal patient record: %w", err)
	}
	metadata := map[string]string{
		"name":  meta.Name,
		"email": meta.Email,
	}
	if meta.UserID != "" {
		metadata["user_id"] = meta.UserID
	}
	doc := Document{ID: uuid.NewString(), Document: payload, Metadata: metadata}
	if err := s.AddDocument(ctx, models.CollectionPatientRecords, doc); err != nil {
		return fmt.Errorf("failed to persist patient record: %w", err)
	}
	return nil
}

// SaveMetricEntry persists one biometric upload to the collection for
// its metric type.
func SaveMetricEntry(ctx context.Context, s Store, entry models.MetricEntry, meta models.PatientMeta) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal metric entry: %w", err)
	}
	metadata := map[string]string{
		"name":      meta.Name,
		"email":     meta.Email,
		"user_id":   entry.UserID,
		"timestamp": entry.Timestamp,
	}
	doc := Document{ID: uuid.NewString(), Document: payload, Metadata: metadata}
	if err := s.AddDocument(ctx, models.MetricCollection(entry.MetricType), doc); err != nil {
		return fmt.Errorf("failed to persist %s metric entry: %w", entry.MetricType, err)
	}
	return nil
}
