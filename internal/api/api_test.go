package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mindwatch-health/mindwatch/internal/alerting"
	"github.com/mindwatch-health/mindwatch/internal/analysis"
	"github.com/mindwatch-health/mindwatch/internal/genai"
	"github.com/mindwatch-health/mindwatch/internal/interview"
	"github.com/mindwatch-health/mindwatch/internal/models"
	"github.com/mindwatch-health/mindwatch/internal/speech"
	"github.com/mindwatch-health/mindwatch/internal/store"
	"github.com/mindwatch-health/mindwatch/internal/twiliosms"
)

// testEnv bundles the server with the doubles behind it so tests can
// assert on side effects.
type testEnv struct {
	server       *Server
	st           *store.InMemoryStore
	conversation *genai.MockClient
	chat         *genai.MockClient
	sms          *twiliosms.MockClient
	synth        *speech.MockSynthesizer
	transcriber  *speech.MockTranscriber
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		st:           store.NewInMemoryStore(),
		conversation: &genai.MockClient{Reply: "How are you feeling today?"},
		chat:         &genai.MockClient{Reply: "<p>Summary</p>"},
		sms:          twiliosms.NewMockClient(),
		synth:        &speech.MockSynthesizer{},
		transcriber:  &speech.MockTranscriber{},
	}
	alerts := alerting.NewService(env.sms,
		alerting.WithMetricField("agitation"),
		alerting.WithThreshold(50),
		alerting.WithToNumber("+16047806112"),
	)
	env.server = NewServer(Deps{
		Store:       env.st,
		Engine:      interview.NewEngine(env.conversation, 16),
		Summarizer:  analysis.NewSummarizer(env.chat),
		Planner:     analysis.NewCrisisPlanner(env.chat),
		Assistant:   analysis.NewAssistant(env.chat),
		Transcriber: env.transcriber,
		Synthesizer: env.synth,
		Alerts:      alerts,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if body["message"] != "Success" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestAssessmentFirstCall(t *testing.T) {
	env := newTestEnv(t)
	req := models.AssessmentRequest{
		Num:      0,
		Metadata: models.PatientMeta{Name: "Ada", Email: "ada@example.com"},
	}
	rec := env.do(t, http.MethodPost, "/assessment", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[models.AssessmentResponse](t, rec)

	if resp.Num != 1 {
		t.Errorf("expected num to increment to 1, got %d", resp.Num)
	}
	// No previous question on the first call, so nothing is appended.
	if len(resp.History) != 0 {
		t.Errorf("expected empty history, got %d turns", len(resp.History))
	}
	if resp.QuestionText == nil || *resp.QuestionText == "" {
		t.Error("expected a first question")
	}
	if resp.Question == nil {
		t.Error("expected synthesized audio for the question")
	}
	if resp.End || resp.ConversationEnded {
		t.Error("fresh session must not be terminal")
	}
}

func TestAssessmentAppendsTurn(t *testing.T) {
	env := newTestEnv(t)
	req := models.AssessmentRequest{
		Num:          3,
		History:      []models.Turn{{Question: "q1", Answer: "a1"}},
		QuestionText: "How did you sleep?",
		AnswerText:   "Badly",
		Metadata:     models.PatientMeta{Name: "Ada", Email: "ada@example.com"},
	}
	rec := env.do(t, http.MethodPost, "/assessment", req)
	resp := decodeBody[models.AssessmentResponse](t, rec)

	if len(resp.History) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(resp.History))
	}
	last := resp.History[1]
	if last.Question != "How did you sleep?" || last.Answer != "Badly" {
		t.Errorf("unexpected appended turn: %+v", last)
	}
	if resp.Num != 4 {
		t.Errorf("expected num 4, got %d", resp.Num)
	}
}

func TestAssessmentAudioAnswer(t *testing.T) {
	env := newTestEnv(t)
	req := models.AssessmentRequest{
		Num:          1,
		QuestionText: "How do you feel?",
		AnswerAudio:  "c29tZSBhdWRpbw==", // "some audio"
		Metadata:     models.PatientMeta{Name: "Ada", Email: "ada@example.com"},
	}
	rec := env.do(t, http.MethodPost, "/assessment", req)
	resp := decodeBody[models.AssessmentResponse](t, rec)

	if len(env.transcriber.Requests) != 1 {
		t.Fatalf("expected 1 transcription call, got %d", len(env.transcriber.Requests))
	}
	if string(env.transcriber.Requests[0]) != "some audio" {
		t.Errorf("audio not decoded before transcription: %q", env.transcriber.Requests[0])
	}
	if len(resp.History) != 1 || resp.History[0].Answer != "mock transcription" {
		t.Errorf("transcript not appended: %+v", resp.History)
	}
}

func TestAssessmentDetectsConversationEnd(t *testing.T) {
	env := newTestEnv(t)
	env.conversation.Reply = "Thank you for your time. " + interview.EndMarker

	req := models.AssessmentRequest{
		Num:      5,
		Metadata: models.PatientMeta{Name: "Ada", Email: "ada@example.com"},
	}
	rec := env.do(t, http.MethodPost, "/assessment", req)
	resp := decodeBody[models.AssessmentResponse](t, rec)

	if !resp.ConversationEnded {
		t.Error("expected conversation_ended to be set")
	}
	if resp.End {
		t.Error("end is confirmed by the client on the next round trip, not here")
	}
	if resp.QuestionText == nil || strings.Contains(*resp.QuestionText, interview.EndMarker) {
		t.Errorf("marker leaked to the client: %v", resp.QuestionText)
	}
}

func TestAssessmentEndPersistsRecord(t *testing.T) {
	env := newTestEnv(t)
	history := []models.Turn{{Question: "q1", Answer: "a1"}, {Question: "q2", Answer: "a2"}}
	req := models.AssessmentRequest{
		Num:      6,
		History:  history,
		End:      true,
		Metadata: models.PatientMeta{Name: "Ada", Email: "ada@example.com"},
	}
	rec := env.do(t, http.MethodPost, "/assessment", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[models.AssessmentResponse](t, rec)
	if !resp.End || resp.QuestionText != nil || resp.Question != nil {
		t.Errorf("unexpected terminal response: %+v", resp)
	}
	if resp.Num != 6 {
		t.Errorf("terminal path must not advance num, got %d", resp.Num)
	}

	docs, err := env.st.ListDocuments(context.Background(), models.CollectionPatientRecords)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 persisted record, got %d", len(docs))
	}
	var record models.PatientRecord
	if err := json.Unmarshal(docs[0].Document, &record); err != nil {
		t.Fatalf("failed to decode persisted record: %v", err)
	}
	if len(record.History) != len(history) {
		t.Errorf("persisted history has %d turns, want %d", len(record.History), len(history))
	}
	if record.Timestamp == "" {
		t.Error("persisted record must carry a timestamp")
	}
	if record.Summary == nil || *record.Summary != "<p>Summary</p>" {
		t.Errorf("expected inline summary, got %v", record.Summary)
	}
	if docs[0].Metadata["user_id"] == "" {
		t.Error("expected user_id added to record metadata")
	}
}

func TestAssessmentTurnCapForcesEnd(t *testing.T) {
	env := newTestEnv(t)
	// The model would happily continue; the ceiling overrides it.
	env.conversation.Reply = "And how is your appetite?"

	req := models.AssessmentRequest{
		Num:      16,
		History:  []models.Turn{{Question: "q", Answer: "a"}},
		Metadata: models.PatientMeta{Name: "Ada", Email: "ada@example.com"},
	}
	rec := env.do(t, http.MethodPost, "/assessment", req)
	resp := decodeBody[models.AssessmentResponse](t, rec)

	if !resp.End {
		t.Error("expected the turn cap to force end")
	}
	if len(env.conversation.Calls) != 0 {
		t.Error("the engine must not be invoked past the cap")
	}
}

func TestAssessmentValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/assessment", models.AssessmentRequest{Num: -1,
		Metadata: models.PatientMeta{Name: "Ada", Email: "ada@example.com"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative num, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/assessment", models.AssessmentRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing identity, got %d", rec.Code)
	}
}

func TestAlertStatusCritical(t *testing.T) {
	env := newTestEnv(t)
	payload := map[string]interface{}{
		"userEmail": "steve@aol.com",
		"userName":  "steve",
		"agitation": 75.0,
		"hrv":       7.81,
	}
	rec := env.do(t, http.MethodPost, "/alert_status", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[alertStatusResponse](t, rec)

	if !resp.Critical {
		t.Error("expected a critical reading")
	}
	if resp.Question == "" {
		t.Error("expected the check-in question on a critical reading")
	}
	if len(env.sms.SentMessages) != 1 {
		t.Fatalf("expected exactly one SMS, got %d", len(env.sms.SentMessages))
	}
	if env.sms.SentMessages[0].Body != alerting.AlertBody {
		t.Errorf("unexpected SMS body: %q", env.sms.SentMessages[0].Body)
	}

	docs, err := env.st.ListDocuments(context.Background(), models.CollectionHeartMetrics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected the snapshot to be persisted, got %d documents", len(docs))
	}
	if docs[0].Metadata["user_id"] == "" {
		t.Error("expected user_id in metric metadata")
	}
}

func TestAlertStatusBelowThreshold(t *testing.T) {
	env := newTestEnv(t)
	payload := map[string]interface{}{
		"userEmail": "steve@aol.com",
		"userName":  "steve",
		"agitation": 20.0,
	}
	rec := env.do(t, http.MethodPost, "/alert_status", payload)
	resp := decodeBody[alertStatusResponse](t, rec)

	if resp.Critical || resp.Question != "" {
		t.Errorf("expected a quiet response, got %+v", resp)
	}
	if len(env.sms.SentMessages) != 0 {
		t.Errorf("expected no SMS, got %d", len(env.sms.SentMessages))
	}
}

func TestAlertStatusRequiresIdentity(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/alert_status", map[string]interface{}{"agitation": 75.0})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHealthMetricsSleep(t *testing.T) {
	env := newTestEnv(t)
	payload := map[string]interface{}{
		"userEmail":       "ada@example.com",
		"userName":        "Ada",
		"totalSleepHours": 6.5,
	}
	rec := env.do(t, http.MethodPost, "/api/health-metrics/sleep", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	docs, err := env.st.ListDocuments(context.Background(), models.CollectionSleepMetrics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 sleep entry, got %d", len(docs))
	}
	var entry models.MetricEntry
	if err := json.Unmarshal(docs[0].Document, &entry); err != nil {
		t.Fatalf("failed to decode entry: %v", err)
	}
	if entry.MetricType != models.MetricTypeSleep || entry.Timestamp == "" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestHealthMetricsRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	payload := map[string]interface{}{"userEmail": "a@b.c", "userName": "A"}
	// Heart is a valid metric type but only ingested via alert_status,
	// so it is rejected here alongside genuinely unknown types.
	for _, metricType := range []string{"blood", "heart"} {
		rec := env.do(t, http.MethodPost, "/api/health-metrics/"+metricType, payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for metric type %q, got %d", metricType, rec.Code)
		}
	}
}

func TestFetchPatientDataSorted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	add := func(id, ts string) {
		payload, _ := json.Marshal(map[string]string{"timestamp": ts})
		env.st.AddDocument(ctx, models.CollectionPatientRecords, store.Document{ID: id, Document: payload})
	}
	add("old", "2026-08-28T12:00:00Z")
	add("new", "2026-08-30T12:00:00Z")
	add("broken", "not-a-time")

	rec := env.do(t, http.MethodGet, "/fetch-patient-data/patient_records", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeBody[collectionListing](t, rec)
	if !resp.Success || len(resp.Data) != 3 {
		t.Fatalf("unexpected listing: %+v", resp)
	}
	if resp.Data[0].ID != "new" || resp.Data[1].ID != "old" || resp.Data[2].ID != "broken" {
		t.Errorf("unexpected order: %s, %s, %s", resp.Data[0].ID, resp.Data[1].ID, resp.Data[2].ID)
	}
}

func TestFetchPatientDataDecodeFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.st.AddDocument(ctx, models.CollectionPatientRecords, store.Document{ID: "bad", Document: json.RawMessage(`{oops`)})

	rec := env.do(t, http.MethodGet, "/fetch-patient-data/patient_records", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on malformed stored document, got %d", rec.Code)
	}
	resp := decodeBody[collectionListing](t, rec)
	if resp.Success || resp.Error == "" {
		t.Errorf("expected an error listing, got %+v", resp)
	}
}

func TestGetUserMergedView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID, _, err := store.CreateOrGetPatient(ctx, env.st, "ada@example.com", "Ada")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta := models.PatientMeta{Name: "Ada", Email: "ada@example.com", UserID: userID}

	record := models.PatientRecord{History: []models.Turn{{Question: "q", Answer: "a"}}, Timestamp: models.Now()}
	if err := store.SavePatientRecord(ctx, env.st, record, meta); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := models.MetricEntry{Metrics: map[string]interface{}{"hrv": 55.0}, Timestamp: models.Now(), UserID: userID, MetricType: models.MetricTypeHeart}
	if err := store.SaveMetricEntry(ctx, env.st, entry, meta); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A second patient's data must not bleed in.
	other := models.MetricEntry{Metrics: map[string]interface{}{"hrv": 99.0}, Timestamp: models.Now(), UserID: "someone-else", MetricType: models.MetricTypeHeart}
	if err := store.SaveMetricEntry(ctx, env.st, other, models.PatientMeta{Name: "X", Email: "x@y.z"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/get-user/"+userID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	view := decodeBody[userView](t, rec)
	if view.Name != "Ada" || view.Email != "ada@example.com" {
		t.Errorf("unexpected identity: %+v", view)
	}
	if len(view.Records) != 1 {
		t.Errorf("expected 1 record, got %d", len(view.Records))
	}
	if len(view.HeartMetrics) != 1 {
		t.Errorf("expected 1 heart metric, got %d", len(view.HeartMetrics))
	}
}

func TestGetUserNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/get-user/no-such-user", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestChatHandler(t *testing.T) {
	env := newTestEnv(t)
	env.chat.Reply = "They are doing well."

	rec := env.do(t, http.MethodPost, "/chat", models.ChatRequest{Question: "How is the patient?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeBody[map[string]string](t, rec)
	if resp["response"] != "They are doing well." {
		t.Errorf("unexpected chat response: %v", resp)
	}
}

func TestChatRequiresQuestion(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/chat", models.ChatRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCrisisPlanHandler(t *testing.T) {
	env := newTestEnv(t)
	env.chat.Reply = `{"urgency_level":"Moderate"}`

	req := models.CrisisPlanRequest{
		Biometrics:        map[string]interface{}{"hrv": 7.81},
		BehavioralSummary: "Patient reports feeling overwhelmed.",
	}
	rec := env.do(t, http.MethodPost, "/api/crisis-plan", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	plan := decodeBody[map[string]interface{}](t, rec)
	if plan["urgency_level"] != "Moderate" {
		t.Errorf("unexpected plan: %v", plan)
	}
}

func TestCrisisPlanFailureReportsReason(t *testing.T) {
	env := newTestEnv(t)
	env.chat.Err = errors.New("model unavailable")

	req := models.CrisisPlanRequest{
		Biometrics:        map[string]interface{}{"hrv": 7.81},
		BehavioralSummary: "Patient reports feeling overwhelmed.",
	}
	rec := env.do(t, http.MethodPost, "/api/crisis-plan", req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if !strings.Contains(body["error"], "model unavailable") {
		t.Errorf("expected error reason in body, got %v", body)
	}
}

func TestCrisisPlanRequiresBiometrics(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/crisis-plan", models.CrisisPlanRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestUploadPatientData(t *testing.T) {
	env := newTestEnv(t)
	req := models.UploadRequest{Documents: []models.UploadDocument{
		{
			History:  []models.Turn{{Question: "q", Answer: "a"}},
			Metadata: models.PatientMeta{Name: "Ada", Email: "ada@example.com"},
		},
		{
			// Missing identity; must fail without aborting the batch.
			History: []models.Turn{{Question: "q", Answer: "a"}},
		},
	}}
	rec := env.do(t, http.MethodPost, "/api/upload-patient-data", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[models.APIResponse](t, rec)
	result, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var counts uploadResult
	if err := json.Unmarshal(result, &counts); err != nil {
		t.Fatalf("failed to decode upload result: %v", err)
	}
	if counts.Uploaded != 1 || counts.Failed != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}

	docs, err := env.st.ListDocuments(context.Background(), models.CollectionPatientRecords)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("expected 1 persisted record, got %d", len(docs))
	}
}

func TestUploadPatientDataEmptyBatch(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/upload-patient-data", models.UploadRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
