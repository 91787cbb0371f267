// Package api provides HTTP handlers for MindWatch endpoints.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mindwatch-health/mindwatch/internal/models"
	"github.com/mindwatch-health/mindwatch/internal/store"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Success"})
}

// assessmentHandler drives one round trip of the interview protocol.
// The server is stateless: the client echoes the full session snapshot
// on every call and gets it back with at most one appended turn.
func (s *Server) assessmentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.assessmentHandler: processing assessment request")

	var req models.AssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.assessmentHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.assessmentHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultUpstreamTimeout)
	defer cancel()

	// Terminal path: the client confirmed the end, or the session hit
	// the turn ceiling. Either way the session is over regardless of
	// what the model would have said next.
	if req.End || req.Num >= s.engine.TurnCap() {
		s.finishAssessment(ctx, w, req)
		return
	}

	answer := req.AnswerText
	if answer == "" && req.AnswerAudio != "" && s.transcriber != nil {
		audio, err := base64.StdEncoding.DecodeString(req.AnswerAudio)
		if err != nil {
			slog.Warn("Server.assessmentHandler: answer audio is not valid base64", "error", err)
		} else if text, err := s.transcriber.Transcribe(ctx, audio); err != nil {
			// No transcript is an empty answer, not a failed request.
			slog.Warn("Server.assessmentHandler: transcription failed", "error", err)
		} else {
			answer = text
		}
	}

	// Grow the history with the turn being answered. The very first
	// call has no previous question, so nothing is appended.
	history := req.History
	if req.QuestionText != "" {
		history = append(history, models.Turn{Question: req.QuestionText, Answer: answer})
	}

	reply, err := s.engine.Next(ctx, history, answer)
	if err != nil {
		slog.Error("Server.assessmentHandler: interview engine failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate next question"))
		return
	}

	var audioPayload *string
	if s.synthesizer != nil && reply.Question != "" {
		if audio, err := s.synthesizer.Synthesize(ctx, reply.Question); err != nil {
			slog.Warn("Server.assessmentHandler: speech synthesis failed", "error", err)
		} else {
			audioPayload = &audio
		}
	}

	questionText := reply.Question
	writeJSONResponse(w, http.StatusOK, models.AssessmentResponse{
		Num:               req.Num + 1,
		History:           history,
		QuestionText:      &questionText,
		Question:          audioPayload,
		End:               false,
		ConversationEnded: reply.EndOfConversation,
		Metadata:          req.Metadata,
	})
}

// finishAssessment persists the completed session exactly once and
// returns the terminal snapshot.
func (s *Server) finishAssessment(ctx context.Context, w http.ResponseWriter, req models.AssessmentRequest) {
	meta := req.Metadata

	userID, _, err := store.CreateOrGetPatient(ctx, s.st, meta.Email, meta.Name)
	if err != nil {
		slog.Error("Server.finishAssessment: patient lookup failed", "error", err)
	} else {
		meta.UserID = userID
	}

	var summary *string
	if text, err := s.summarizer.Summarize(ctx, req.History); err != nil {
		slog.Warn("Server.finishAssessment: summarization failed, persisting without summary", "error", err)
	} else if text != "" {
		summary = &text
	}

	record := models.PatientRecord{
		History:   req.History,
		Summary:   summary,
		Timestamp: models.Now(),
	}
	if err := store.SavePatientRecord(ctx, s.st, record, meta); err != nil {
		slog.Error("Server.finishAssessment: failed to persist interview record", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to persist interview record"))
		return
	}

	slog.Info("Server.finishAssessment: session persisted", "turns", len(req.History), "user_id", meta.UserID)
	writeJSONResponse(w, http.StatusOK, models.AssessmentResponse{
		Num:               req.Num,
		History:           req.History,
		QuestionText:      nil,
		Question:          nil,
		End:               true,
		ConversationEnded: true,
		Metadata:          meta,
	})
}

// collectionListing is the fetch-patient-data response shape.
type collectionListing struct {
	Success bool                    `json:"success"`
	Data    []store.DecodedDocument `json:"data,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

func (s *Server) fetchPatientDataHandler(w http.ResponseWriter, r *http.Request) {
	coll := r.PathValue("collection")
	slog.Debug("Server.fetchPatientDataHandler: listing collection", "collection", coll)

	docs, err := s.listCollection(r.Context(), coll)
	if err != nil {
		slog.Error("Server.fetchPatientDataHandler: listing failed", "collection", coll, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, collectionListing{Success: false, Error: err.Error()})
		return
	}
	writeJSONResponse(w, http.StatusOK, collectionListing{Success: true, Data: docs})
}

// listCollection fetches, decodes and sorts one collection,
// newest-first.
func (s *Server) listCollection(ctx context.Context, collection string) ([]store.DecodedDocument, error) {
	docs, err := s.st.ListDocuments(ctx, collection)
	if err != nil {
		return nil, err
	}
	decoded, err := store.DecodeDocuments(docs)
	if err != nil {
		return nil, err
	}
	store.SortByTimestampDesc(decoded)
	return decoded, nil
}

// userView is the merged per-patient response for get-user.
type userView struct {
	ID              string                  `json:"id"`
	Name            string                  `json:"name"`
	Email           string                  `json:"email"`
	Records         []store.DecodedDocument `json:"records"`
	HeartMetrics    []store.DecodedDocument `json:"heart_metrics"`
	SleepMetrics    []store.DecodedDocument `json:"sleep_metrics"`
	ActivityMetrics []store.DecodedDocument `json:"activity_metrics"`
}

func (s *Server) getUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	slog.Debug("Server.getUserHandler: building user view", "user_id", userID)

	ctx, cancel := context.WithTimeout(r.Context(), DefaultUpstreamTimeout)
	defer cancel()

	patients, err := s.st.ListDocuments(ctx, models.CollectionPatients)
	if err != nil {
		slog.Error("Server.getUserHandler: failed to list patients", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load patient"))
		return
	}

	view := userView{ID: userID}
	found := false
	for _, doc := range patients {
		if doc.ID != userID {
			continue
		}
		var p models.Patient
		if err := json.Unmarshal(doc.Document, &p); err != nil {
			slog.Warn("Server.getUserHandler: malformed patient document", "id", doc.ID, "error", err)
			continue
		}
		view.Name = p.Name
		view.Email = p.Email
		found = true
		break
	}
	if !found {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Patient not found"))
		return
	}

	series := []struct {
		collection string
		target     *[]store.DecodedDocument
	}{
		{models.CollectionPatientRecords, &view.Records},
		{models.CollectionHeartMetrics, &view.HeartMetrics},
		{models.CollectionSleepMetrics, &view.SleepMetrics},
		{models.CollectionActivityMetrics, &view.ActivityMetrics},
	}
	for _, sp := range series {
		docs, err := s.listCollection(ctx, sp.collection)
		if err != nil {
			slog.Error("Server.getUserHandler: failed to list collection", "collection", sp.collection, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load patient data"))
			return
		}
		*sp.target = store.FilterByUserID(docs, userID)
	}

	writeJSONResponse(w, http.StatusOK, view)
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultUpstreamTimeout)
	defer cancel()

	reply, err := s.assistant.Answer(ctx, req.Question, req.ConversationChain, req.ChatHistory)
	if err != nil {
		slog.Error("Server.chatHandler: chat completion failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get a chat response"))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"response": reply})
}

func (s *Server) crisisPlanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.CrisisPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.crisisPlanHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.crisisPlanHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultUpstreamTimeout)
	defer cancel()

	plan, err := s.planner.Generate(ctx, req.Biometrics, req.BehavioralSummary)
	if err != nil {
		slog.Error("Server.crisisPlanHandler: plan generation failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSONResponse(w, http.StatusOK, plan)
}
