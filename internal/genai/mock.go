package genai

import (
	"context"

	"github.com/openai/openai-go"
)

// MockClient is a test double for ClientInterface.
type MockClient struct {
	// GenerateFn overrides the canned reply for Generate and
	// GenerateWithLimit.
	GenerateFn func(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Reply is returned when GenerateFn is nil.
	Reply string
	// Err, when set, is returned from every call.
	Err error
	// Calls records the user prompts passed in, in order.
	Calls []string
}

// Generate returns the canned reply or delegates to GenerateFn.
func (m *MockClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.Calls = append(m.Calls, userPrompt)
	if m.Err != nil {
		return "", m.Err
	}
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, systemPrompt, userPrompt)
	}
	return m.Reply, nil
}

// GenerateWithLimit behaves like Generate; the limit is ignored.
func (m *MockClient) GenerateWithLimit(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, error) {
	return m.Generate(ctx, systemPrompt, userPrompt)
}

// GenerateWithMessages returns the canned reply for a full message array.
func (m *MockClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Reply, nil
}
