package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mindwatch-health/mindwatch/internal/genai"
)

const chatSystemPrompt = "You are a helpful medical assistant. Use the provided conversation chain for context, but focus on giving direct and relevant responses to the user's questions."

const chatPromptTemplate = `Reference Information:
%s

Conversation Chain:
%s

Current Question: %s

Please provide a helpful response to the current question, using the reference information and conversation history as context.`

// Assistant answers free-form clinician questions grounded on supplied
// patient context.
type Assistant struct {
	client genai.ClientInterface
}

// NewAssistant constructs a chat assistant backed by the chat model.
func NewAssistant(client genai.ClientInterface) *Assistant {
	return &Assistant{client: client}
}

// Answer embeds the reference context and prior exchange into the
// prompt and returns the model's reply verbatim. Missing context
// sections are rendered as "null" rather than omitted so the prompt
// shape stays stable.
func (a *Assistant) Answer(ctx context.Context, question string, conversationChain, chatHistory interface{}) (string, error) {
	chainJSON, err := json.MarshalIndent(conversationChain, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation chain: %w", err)
	}
	historyJSON, err := json.MarshalIndent(chatHistory, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode chat history: %w", err)
	}

	prompt := fmt.Sprintf(chatPromptTemplate, string(chainJSON), string(historyJSON), question)

	reply, err := a.client.Generate(ctx, chatSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	return reply, nil
}
