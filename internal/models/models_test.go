package models

import (
	"errors"
	"testing"
)

func TestAssessmentRequestValidate(t *testing.T) {
	req := AssessmentRequest{
		Num:      0,
		Metadata: PatientMeta{Name: "Ada", Email: "ada@example.com"},
	}
	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}

	req.Num = -1
	if err := req.Validate(); !errors.Is(err, ErrNegativeTurnCount) {
		t.Errorf("expected ErrNegativeTurnCount, got %v", err)
	}

	req.Num = 0
	req.Metadata.Name = ""
	if err := req.Validate(); !errors.Is(err, ErrMissingPatientName) {
		t.Errorf("expected ErrMissingPatientName, got %v", err)
	}

	req.Metadata = PatientMeta{Name: "Ada"}
	if err := req.Validate(); !errors.Is(err, ErrMissingPatientEmail) {
		t.Errorf("expected ErrMissingPatientEmail, got %v", err)
	}
}

func TestChatRequestValidate(t *testing.T) {
	req := ChatRequest{}
	if err := req.Validate(); !errors.Is(err, ErrMissingQuestion) {
		t.Errorf("expected ErrMissingQuestion, got %v", err)
	}
	req.Question = "How is the patient doing?"
	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}
}

func TestCrisisPlanRequestValidate(t *testing.T) {
	req := CrisisPlanRequest{}
	if err := req.Validate(); !errors.Is(err, ErrMissingBiometrics) {
		t.Errorf("expected ErrMissingBiometrics, got %v", err)
	}
	req.Biometrics = map[string]interface{}{"hrv": 42.0}
	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}
}

func TestMetricCollection(t *testing.T) {
	cases := []struct {
		mt   MetricType
		want string
	}{
		{MetricTypeHeart, CollectionHeartMetrics},
		{MetricTypeSleep, CollectionSleepMetrics},
		{MetricTypeActivity, CollectionActivityMetrics},
	}
	for _, c := range cases {
		if got := MetricCollection(c.mt); got != c.want {
			t.Errorf("MetricCollection(%s) = %s, want %s", c.mt, got, c.want)
		}
	}
}

func TestIsValidMetricType(t *testing.T) {
	if !IsValidMetricType(MetricTypeSleep) {
		t.Error("sleep should be a valid metric type")
	}
	if IsValidMetricType(MetricType("blood")) {
		t.Error("unknown metric type should be invalid")
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2026-08-30T12:00:00Z", true},
		{"2026-08-30T12:00:00.123456789Z", true},
		{"2026-08-30T12:00:00", true},
		{"2026-08-30T12:00:00.123456", true},
		{"", false},
		{"yesterday", false},
	}
	for _, c := range cases {
		if _, ok := ParseTimestamp(c.in); ok != c.ok {
			t.Errorf("ParseTimestamp(%q) ok = %v, want %v", c.in, ok, c.ok)
		}
	}
}

func TestParseTimestampOrdering(t *testing.T) {
	early, ok := ParseTimestamp("2026-08-29T12:00:00Z")
	if !ok {
		t.Fatal("failed to parse early timestamp")
	}
	late, ok := ParseTimestamp("2026-08-30T12:00:00Z")
	if !ok {
		t.Fatal("failed to parse late timestamp")
	}
	if !late.After(early) {
		t.Error("expected later timestamp to order after earlier one")
	}
}
