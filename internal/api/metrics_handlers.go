// Package api provides biometric ingestion and bulk upload handlers for MindWatch endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mindwatch-health/mindwatch/internal/alerting"
	"github.com/mindwatch-health/mindwatch/internal/models"
	"github.com/mindwatch-health/mindwatch/internal/store"
)

// alertStatusResponse reports whether a reading was critical and, if
// so, the check-in question the watch should open with.
type alertStatusResponse struct {
	Critical bool   `json:"critical"`
	Question string `json:"question"`
}

// alertStatusHandler ingests a heart metric snapshot, evaluates the
// alert threshold, and dispatches the SMS alert on a critical reading.
func (s *Server) alertStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.alertStatusHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	meta, err := identityFromPayload(payload)
	if err != nil {
		slog.Warn("Server.alertStatusHandler: identity missing", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultUpstreamTimeout)
	defer cancel()

	userID, _, err := store.CreateOrGetPatient(ctx, s.st, meta.Email, meta.Name)
	if err != nil {
		slog.Error("Server.alertStatusHandler: patient lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process user"))
		return
	}
	meta.UserID = userID
	payload["user_id"] = userID

	entry := models.MetricEntry{
		Metrics:    payload,
		Timestamp:  models.Now(),
		UserID:     userID,
		MetricType: models.MetricTypeHeart,
	}
	if err := store.SaveMetricEntry(ctx, s.st, entry, meta); err != nil {
		slog.Error("Server.alertStatusHandler: failed to persist metrics", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store metrics"))
		return
	}

	value, critical := s.alerts.Evaluate(payload)
	resp := alertStatusResponse{Critical: critical}
	if critical {
		slog.Info("Server.alertStatusHandler: critical reading", "field", s.alerts.MetricField(), "value", value, "user_id", userID)
		if err := s.alerts.Dispatch(ctx); err != nil {
			// The ingestion succeeded; a failed SMS does not fail the
			// request.
			slog.Error("Server.alertStatusHandler: alert dispatch failed", "error", err)
		}
		resp.Question = alerting.CheckInQuestion
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// healthMetricsHandler ingests sleep and activity uploads into their
// typed collections. Heart metrics arrive via alert_status instead so
// they pass through threshold evaluation.
func (s *Server) healthMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	metricType := models.MetricType(r.PathValue("metric_type"))
	if !models.IsValidMetricType(metricType) || metricType == models.MetricTypeHeart {
		slog.Warn("Server.healthMetricsHandler: unsupported metric type", "metric_type", metricType)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidMetricType.Error()))
		return
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.healthMetricsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	meta, err := identityFromPayload(payload)
	if err != nil {
		slog.Warn("Server.healthMetricsHandler: identity missing", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultUpstreamTimeout)
	defer cancel()

	userID, _, err := store.CreateOrGetPatient(ctx, s.st, meta.Email, meta.Name)
	if err != nil {
		slog.Error("Server.healthMetricsHandler: patient lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process user"))
		return
	}
	meta.UserID = userID
	payload["user_id"] = userID

	entry := models.MetricEntry{
		Metrics:    payload,
		Timestamp:  models.Now(),
		UserID:     userID,
		MetricType: metricType,
	}
	if err := store.SaveMetricEntry(ctx, s.st, entry, meta); err != nil {
		slog.Error("Server.healthMetricsHandler: failed to persist metrics", "metric_type", metricType, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store metrics"))
		return
	}

	slog.Debug("Server.healthMetricsHandler: metrics recorded", "metric_type", metricType, "user_id", userID)
	writeJSONResponse(w, http.StatusOK, models.Recorded("Metrics recorded"))
}

// uploadResult reports the outcome of a bulk upload.
type uploadResult struct {
	Uploaded int `json:"uploaded"`
	Failed   int `json:"failed"`
}

// uploadPatientDataHandler bulk-imports interview records, summarizing
// each inline. Per-document failures do not abort the batch.
func (s *Server) uploadPatientDataHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.uploadPatientDataHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.Documents) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No documents to upload"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultUpstreamTimeout)
	defer cancel()

	var result uploadResult
	for i, doc := range req.Documents {
		if err := s.uploadOne(ctx, doc); err != nil {
			slog.Warn("Server.uploadPatientDataHandler: document upload failed", "index", i, "error", err)
			result.Failed++
			continue
		}
		result.Uploaded++
	}

	slog.Info("Server.uploadPatientDataHandler: batch processed", "uploaded", result.Uploaded, "failed", result.Failed)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Upload processed", result))
}

func (s *Server) uploadOne(ctx context.Context, doc models.UploadDocument) error {
	if err := doc.Metadata.Validate(); err != nil {
		return err
	}
	if len(doc.History) == 0 {
		return models.ErrEmptyHistory
	}

	meta := doc.Metadata
	userID, _, err := store.CreateOrGetPatient(ctx, s.st, meta.Email, meta.Name)
	if err != nil {
		return err
	}
	meta.UserID = userID

	var summary *string
	if text, err := s.summarizer.Summarize(ctx, doc.History); err != nil {
		slog.Warn("Server.uploadOne: summarization failed, persisting without summary", "error", err)
	} else if text != "" {
		summary = &text
	}

	record := models.PatientRecord{
		History:   doc.History,
		Summary:   summary,
		Timestamp: models.Now(),
	}
	return store.SavePatientRecord(ctx, s.st, record, meta)
}

// identityFromPayload extracts the wearable's identity fields from a
// raw metrics payload.
func identityFromPayload(payload map[string]interface{}) (models.PatientMeta, error) {
	name, _ := payload["userName"].(string)
	email, _ := payload["userEmail"].(string)
	meta := models.PatientMeta{Name: name, Email: email}
	return meta, meta.Validate()
}
