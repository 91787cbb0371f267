// Package analysis wraps the chat-completion service for everything
// derived from interview and biometric data: transcript summaries,
// crisis plans, and grounded free-form chat. All of it is best effort;
// the output is only as reliable as the model's compliance with the
// requested format.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mindwatch-health/mindwatch/internal/genai"
	"github.com/mindwatch-health/mindwatch/internal/models"
)

const summarySystemPrompt = "You are a helpful medical assistant. Summarize the patient interview. Provide responses in HTML only without markdown or additional formatting."

// Summarizer produces HTML summaries of completed interviews.
type Summarizer struct {
	client genai.ClientInterface
}

// NewSummarizer constructs a summarizer backed by the chat model.
func NewSummarizer(client genai.ClientInterface) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize flattens the Q/A transcript and asks the chat model for an
// HTML-only summary. An empty transcript returns "" without invoking
// the model. Callers must treat an error as "no summary available",
// not as a request failure.
func (s *Summarizer) Summarize(ctx context.Context, turns []models.Turn) (string, error) {
	if len(turns) == 0 {
		slog.Debug("Summarizer.Summarize: empty transcript, skipping model call")
		return "", nil
	}

	var transcript strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&transcript, "Q: %s\nA: %s\n", turn.Question, turn.Answer)
	}

	userPrompt := fmt.Sprintf("Here is a patient interview Q&A:\n%s\nPlease summarize it clearly and concisely in HTML.", transcript.String())

	text, err := s.client.Generate(ctx, summarySystemPrompt, userPrompt)
	if err != nil {
		slog.Warn("Summarizer.Summarize: chat model call failed", "error", err)
		return "", fmt.Errorf("summarization failed: %w", err)
	}

	summary := strings.ReplaceAll(StripCodeFences(text), "\n", "")
	return strings.TrimSpace(summary), nil
}

// StripCodeFences removes markdown code-fence wrapping artifacts
// (``` or ```html / ```json fence lines) that models add despite being
// told not to.
func StripCodeFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.TrimPrefix(cleaned, "```")
	// Drop the language tag on the opening fence, if any.
	if idx := strings.IndexByte(cleaned, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(cleaned[:idx])
		if firstLine == "html" || firstLine == "json" || firstLine == "" {
			cleaned = cleaned[idx+1:]
		}
	} else {
		cleaned = strings.TrimPrefix(cleaned, "html")
		cleaned = strings.TrimPrefix(cleaned, "json")
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}
