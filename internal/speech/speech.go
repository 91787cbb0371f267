// Package speech covers both directions of the voice interface:
// transcribing patient answer audio and synthesizing question audio
// for playback. Synthesis goes through the ElevenLabs REST API, which
// has no Go SDK, so the client is a thin hand-rolled HTTP wrapper.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultBaseURL is the ElevenLabs API root.
const DefaultBaseURL = "https://api.elevenlabs.io"

// DefaultVoiceID is the stock "Rachel" voice, used when no voice is
// configured.
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

const synthesisModel = "eleven_monolingual_v1"

const requestTimeout = 30 * time.Second

// Transcriber converts recorded answer audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer converts question text to base64-encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Opts holds ElevenLabs client configuration.
type Opts struct {
	// APIKey is the ElevenLabs API key. Required.
	APIKey string
	// VoiceID selects the voice; defaults to DefaultVoiceID.
	VoiceID string
	// BaseURL overrides the API root, used in tests.
	BaseURL string
}

// Option configures ElevenLabs client options.
type Option func(*Opts)

// WithAPIKey sets the ElevenLabs API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithVoiceID sets the synthesis voice.
func WithVoiceID(id string) Option {
	return func(o *Opts) { o.VoiceID = id }
}

// WithBaseURL overrides the ElevenLabs API root.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// ElevenLabsClient synthesizes speech via the ElevenLabs
// text-to-speech endpoint.
type ElevenLabsClient struct {
	apiKey  string
	voiceID string
	baseURL string
	http    *http.Client
}

// NewElevenLabsClient creates a synthesizer with the given options.
func NewElevenLabsClient(options ...Option) (*ElevenLabsClient, error) {
	opts := Opts{VoiceID: DefaultVoiceID, BaseURL: DefaultBaseURL}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.APIKey == "" {
		return nil, errors.New("ElevenLabs API key is required")
	}
	slog.Debug("NewElevenLabsClient: creating client", "voiceID", opts.VoiceID)
	return &ElevenLabsClient{
		apiKey:  opts.APIKey,
		voiceID: opts.VoiceID,
		baseURL: opts.BaseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}, nil
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize renders text as speech and returns the audio as a base64
// string, ready to embed in a JSON response.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       synthesisModel,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.5},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, c.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build synthesis request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("ElevenLabsClient.Synthesize: non-OK response", "status", resp.StatusCode)
		return "", fmt.Errorf("synthesis request returned status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	slog.Debug("ElevenLabsClient.Synthesize: audio generated", "bytes", len(audio))
	return base64.StdEncoding.EncodeToString(audio), nil
}
