package speech

import "context"

// MockSynthesizer is a test double for the Synthesizer interface.
type MockSynthesizer struct {
	// SynthesizeFn overrides the default canned behavior.
	SynthesizeFn func(ctx context.Context, text string) (string, error)
	// Requests records every text passed to Synthesize.
	Requests []string
}

// Synthesize records the request and returns a canned base64 payload
// unless SynthesizeFn is set.
func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	m.Requests = append(m.Requests, text)
	if m.SynthesizeFn != nil {
		return m.SynthesizeFn(ctx, text)
	}
	return "bW9jay1hdWRpbw==", nil
}

// MockTranscriber is a test double for the Transcriber interface.
type MockTranscriber struct {
	// TranscribeFn overrides the default canned behavior.
	TranscribeFn func(ctx context.Context, audio []byte) (string, error)
	// Requests records every audio payload passed to Transcribe.
	Requests [][]byte
}

// Transcribe records the request and returns canned text unless
// TranscribeFn is set.
func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	m.Requests = append(m.Requests, audio)
	if m.TranscribeFn != nil {
		return m.TranscribeFn(ctx, audio)
	}
	return "mock transcription", nil
}
