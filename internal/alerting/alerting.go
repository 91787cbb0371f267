// Package alerting evaluates biometric snapshots against a configured
// threshold and notifies the on-call contact over SMS when a reading
// crosses it.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mindwatch-health/mindwatch/internal/twiliosms"
)

// DefaultMetricField is the biometric field checked when none is
// configured.
const DefaultMetricField = "hrv"

// DefaultThreshold is the critical threshold for the default field.
const DefaultThreshold = 100.0

// AlertBody is the SMS text sent on a critical reading.
const AlertBody = "Alert! Mood swing!"

// CheckInQuestion opens an unprompted interview on the patient's
// device after a critical reading.
const CheckInQuestion = "Hi, I'm an AI therapist. I've noticed that you've been having some mood swings. Can you tell me how you are feeling right now?"

// Opts holds alerting service configuration.
type Opts struct {
	// MetricField is the biometric field compared against Threshold.
	// Defaults to DefaultMetricField.
	MetricField string
	// Threshold is the critical cutoff. Readings strictly above it
	// trigger an alert. Defaults to DefaultThreshold.
	Threshold float64
	// ToNumber receives the alert SMS. Required for dispatch.
	ToNumber string
}

// Option configures alerting service options.
type Option func(*Opts)

// WithMetricField sets the watched biometric field.
func WithMetricField(field string) Option {
	return func(o *Opts) { o.MetricField = field }
}

// WithThreshold sets the critical cutoff.
func WithThreshold(threshold float64) Option {
	return func(o *Opts) { o.Threshold = threshold }
}

// WithToNumber sets the alert recipient in E.164 format.
func WithToNumber(to string) Option {
	return func(o *Opts) { o.ToNumber = to }
}

// Service checks metric snapshots and dispatches SMS alerts.
type Service struct {
	sender    twiliosms.Sender
	field     string
	threshold float64
	to        string
}

// NewService creates an alerting service over the given SMS sender.
func NewService(sender twiliosms.Sender, options ...Option) *Service {
	opts := Opts{MetricField: DefaultMetricField, Threshold: DefaultThreshold}
	for _, opt := range options {
		opt(&opts)
	}
	return &Service{
		sender:    sender,
		field:     opts.MetricField,
		threshold: opts.Threshold,
		to:        opts.ToNumber,
	}
}

// MetricField returns the watched field name.
func (s *Service) MetricField() string { return s.field }

// Evaluate looks up the watched field in a metrics snapshot and
// reports whether it exceeds the threshold. The field is searched at
// the top level first, then one level down inside nested objects, so
// both flat payloads and grouped ones ({"heart_rate": {"hrv": ...}})
// work. A missing or non-numeric field is never critical.
func (s *Service) Evaluate(metrics map[string]interface{}) (float64, bool) {
	value, found := lookupNumeric(metrics, s.field)
	if !found {
		slog.Debug("Alerting.Evaluate: metric field absent", "field", s.field)
		return 0, false
	}
	return value, value > s.threshold
}

// Dispatch sends the critical-reading SMS. Delivery failure is
// returned to the caller; whether to degrade or fail the request is
// the caller's call.
func (s *Service) Dispatch(ctx context.Context) error {
	if s.to == "" {
		slog.Warn("Alerting.Dispatch: no alert recipient configured, skipping SMS")
		return nil
	}
	if err := s.sender.SendSMS(ctx, s.to, AlertBody); err != nil {
		return fmt.Errorf("failed to dispatch alert SMS: %w", err)
	}
	slog.Info("Alerting.Dispatch: alert SMS sent", "to", s.to, "field", s.field)
	return nil
}

func lookupNumeric(metrics map[string]interface{}, field string) (float64, bool) {
	if v, ok := asFloat(metrics[field]); ok {
		return v, true
	}
	for _, nested := range metrics {
		group, ok := nested.(map[string]interface{})
		if !ok {
			continue
		}
		if v, ok := asFloat(group[field]); ok {
			return v, true
		}
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
