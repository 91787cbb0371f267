// Package genai wraps the OpenAI-compatible chat completion API used by
// every hosted model MindWatch talks to. The chat-completion service,
// the generative-conversation service and the speech-to-text model are
// all reached through the same SDK; distinct providers are selected via
// base URL, model name and API key options.
package genai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default generation parameters, matching the request payloads the
// service has always sent upstream.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 300
)

// ClientInterface defines the chat operations consumed by the interview
// engine and the analysis adapters. Implementations must be safe for
// concurrent use.
type ClientInterface interface {
	// Generate produces a completion from a system and user prompt.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// GenerateWithLimit is Generate with an explicit completion budget.
	GenerateWithLimit(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, error)
	// GenerateWithMessages produces a completion from a full message array.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the API key for the upstream provider.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the model name requested on every completion.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the chat completion and audio transcription services.
type Client struct {
	client openai.Client
	model  string
}

// NewClient initializes a GenAI client from the provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key not set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	slog.Debug("genai.NewClient: client configured", "model", cfg.Model, "base_url_set", cfg.BaseURL != "")

	return &Client{client: openai.NewClient(reqOpts...), model: cfg.Model}, nil
}

// Generate produces a completion from a system and user prompt.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.GenerateWithLimit(ctx, systemPrompt, userPrompt, DefaultMaxTokens)
}

// GenerateWithLimit produces a completion with an explicit token budget.
func (c *Client) GenerateWithLimit(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	}
	return c.complete(ctx, messages, maxTokens)
}

// GenerateWithMessages produces a completion from a full message array.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return c.complete(ctx, messages, DefaultMaxTokens)
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, maxTokens int64) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(DefaultTemperature),
		MaxTokens:   openai.Int(maxTokens),
		TopP:        openai.Float(1),
	})
	if err != nil {
		slog.Error("genai.complete: chat completion failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("genai.complete: no choices returned", "model", c.model)
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Transcribe converts an audio blob to text using the speech-to-text
// model. Callers treat any failure as "no transcript".
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio payload")
	}
	resp, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  openai.File(bytes.NewReader(audio), "answer.wav", "audio/wav"),
	})
	if err != nil {
		slog.Error("genai.Transcribe: transcription failed", "error", err)
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return resp.Text, nil
}
