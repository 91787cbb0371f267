// Package models defines the core data structures for MindWatch.
//
// It includes the wire types for the assessment protocol, persisted
// patient entities, biometric metric entries, and the shared API
// response envelope used by all HTTP handlers.
package models

import (
	"errors"
	"time"
)

// MetricType identifies which biometric time series an entry belongs to.
type MetricType string

const (
	// MetricTypeHeart covers heart rate, HRV and agitation uploads.
	MetricTypeHeart MetricType = "heart"
	// MetricTypeSleep covers sleep duration and quality uploads.
	MetricTypeSleep MetricType = "sleep"
	// MetricTypeActivity covers steps, calories and activity scores.
	MetricTypeActivity MetricType = "activity"
)

// Collection names used in the document store. Each logical record type
// lives in its own named collection.
const (
	CollectionPatients        = "patients"
	CollectionPatientRecords  = "patient_records"
	CollectionHeartMetrics    = "user_metrics"
	CollectionSleepMetrics    = "user_sleep_metrics"
	CollectionActivityMetrics = "user_activity_metrics"
)

// Error variables for better error handling and testability
var (
	ErrMissingPatientName  = errors.New("metadata name is required")
	ErrMissingPatientEmail = errors.New("metadata email is required")
	ErrNegativeTurnCount   = errors.New("turn counter cannot be negative")
	ErrMissingQuestion     = errors.New("question is required")
	ErrInvalidMetricType   = errors.New("invalid metric type")
	ErrEmptyHistory        = errors.New("history cannot be empty")
	ErrMissingBiometrics   = errors.New("biometrics payload is required")
)

// IsValidMetricType checks if the given metric type is supported.
func IsValidMetricType(mt MetricType) bool {
	switch mt {
	case MetricTypeHeart, MetricTypeSleep, MetricTypeActivity:
		return true
	default:
		return false
	}
}

// MetricCollection maps a metric type to its document collection.
func MetricCollection(mt MetricType) string {
	switch mt {
	case MetricTypeSleep:
		return CollectionSleepMetrics
	case MetricTypeActivity:
		return CollectionActivityMetrics
	default:
		return CollectionHeartMetrics
	}
}

// Turn is one question/answer exchange in an interview session.
// Turns are append-only; array order is chronological order.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// PatientMeta carries the patient identity fields echoed through the
// assessment round trips and stored as document metadata.
type PatientMeta struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	UserID string `json:"user_id,omitempty"`
}

// Validate checks the identity fields required to persist anything.
func (m *PatientMeta) Validate() error {
	if m.Name == "" {
		return ErrMissingPatientName
	}
	if m.Email == "" {
		return ErrMissingPatientEmail
	}
	return nil
}

// Patient is the identity record created on first contact. There is no
// update path; patients are immutable once created.
type Patient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PatientRecord is the persisted outcome of a completed interview
// session. Immutable once written. Summary is null when the
// summarization call failed or the history was empty.
type PatientRecord struct {
	History   []Turn  `json:"history"`
	Summary   *string `json:"summary"`
	Timestamp string  `json:"timestamp"`
}

// MetricEntry is one timestamped biometric upload from the wearable.
// Metrics is the raw key-value payload; no schema is enforced here.
type MetricEntry struct {
	Metrics    map[string]interface{} `json:"metrics"`
	Timestamp  string                 `json:"timestamp"`
	UserID     string                 `json:"user_id"`
	MetricType MetricType             `json:"metric_type"`
}

// AssessmentRequest is the client-echoed session snapshot sent on every
// interview round trip. The client is the sole authority for resending
// the full history; the server holds no session state.
type AssessmentRequest struct {
	Num     int    `json:"num"`
	History []Turn `json:"history"`
	// QuestionText is the question the client is answering, echoed
	// back from the previous response. Empty on the very first call.
	QuestionText string      `json:"question_text"`
	AnswerText   string      `json:"answer_text"`
	AnswerAudio  string      `json:"answer_audio,omitempty"` // base64 audio, transcribed when answer_text is empty
	End          bool        `json:"end"`
	Metadata     PatientMeta `json:"metadata"`
}

// Validate performs field-presence validation on an assessment request.
func (r *AssessmentRequest) Validate() error {
	if r.Num < 0 {
		return ErrNegativeTurnCount
	}
	return r.Metadata.Validate()
}

// AssessmentResponse mirrors the request plus the next question (text
// and optional synthesized audio). ConversationEnded is set when the
// model produced its closing statement; the client confirms by
// re-submitting with End set.
type AssessmentResponse struct {
	Num               int         `json:"num"`
	History           []Turn      `json:"history"`
	QuestionText      *string     `json:"question_text"`
	Question          *string     `json:"question"` // base64 audio payload
	End               bool        `json:"end"`
	ConversationEnded bool        `json:"conversation_ended"`
	Metadata          PatientMeta `json:"metadata"`
}

// ChatRequest is a free-form question grounded on a supplied
// conversation chain, answered by the chat-completion model.
type ChatRequest struct {
	Question          string      `json:"question"`
	ConversationChain interface{} `json:"conversation_chain,omitempty"`
	ChatHistory       interface{} `json:"chat_history,omitempty"`
}

// Validate checks chat request required fields.
func (r *ChatRequest) Validate() error {
	if r.Question == "" {
		return ErrMissingQuestion
	}
	return nil
}

// CrisisPlanRequest carries a biometric snapshot plus a free-text
// behavioral summary for on-demand crisis-plan generation. Plans are
// never persisted.
type CrisisPlanRequest struct {
	Biometrics        map[string]interface{} `json:"biometrics"`
	BehavioralSummary string                 `json:"behavioral_summary"`
}

// Validate checks crisis plan request required fields.
func (r *CrisisPlanRequest) Validate() error {
	if len(r.Biometrics) == 0 {
		return ErrMissingBiometrics
	}
	return nil
}

// UploadDocument is one record in a bulk patient-data upload.
type UploadDocument struct {
	History  []Turn      `json:"history"`
	Metadata PatientMeta `json:"metadata"`
}

// UploadRequest is the payload for bulk document ingestion with inline
// summarization.
type UploadRequest struct {
	Documents []UploadDocument `json:"documents"`
}

// TimestampFormat is the layout used for all timestamps this service
// writes. Reads also tolerate zone-less ISO-8601 strings produced by
// earlier revisions.
const TimestampFormat = time.RFC3339

// timestampLayouts are tried in order when parsing stored timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses a stored ISO-8601 timestamp. The boolean is
// false when the value is missing or unparseable; such entries sort to
// the end of any listing.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Now returns the current time formatted for persistence.
func Now() string {
	return time.Now().UTC().Format(TimestampFormat)
}
