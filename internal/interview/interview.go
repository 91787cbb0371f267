// Package interview implements the multi-turn patient assessment loop.
//
// The engine is stateless per call: the full conversation state
// (history, turn count) is passed in by the caller and returned with
// one appended turn; nothing is retained between calls. Termination is
// client-driven: the engine reports the model's end-of-conversation
// signal as an explicit tagged result and the client confirms it on the
// next round trip, while the turn-count ceiling is enforced by the HTTP
// layer before the engine is ever invoked.
package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mindwatch-health/mindwatch/internal/genai"
	"github.com/mindwatch-health/mindwatch/internal/models"
)

// EndMarker is the reserved sentinel the conversation model appends to
// its closing statement. It must never appear in organic output; it is
// stripped here, at the model boundary, and never shown to the patient.
const EndMarker = "[CONVERSATION ENDED]"

// DefaultTurnCap is the default turn-count ceiling for a session.
const DefaultTurnCap = 16

// topics lists the assessment themes, in the order given to the model.
const topics = `1. Mood and Emotions
2. Eating and Diet
3. Sleep and Fatigue
4. Exercise and Fitness
5. Relationships and Social Interaction`

// instructions is the full behavioral-psychologist system prompt. The
// two-follow-ups-per-topic rule is a soft constraint delegated to the
// model; nothing here can verify or enforce it.
var instructions = fmt.Sprintf(`You are a behavioral psychologist. You are to facilitate a conversation with the user
who likely has some form of bi-polar disorder. You are to ask them questions about the
following topics:

----- TOPICS -----

%s

----- DIRECTIONS -----

To start the conversation (i.e. the history is empty), you should introduce yourself as
an AI behavioral psychologist and ask the user to describe their current mood and emotions.

Then, in the conversation, you should act like a human and ask follow up questions on
each theme you touch on. Do not exceed 2 follow up questions per theme. Once you feel
like you have enough information on a theme, you should move on to the next theme in
any order in the ----- TOPICS ----- section.

Once all topics in ----- TOPICS ----- have been covered, thank the user
for their time and directly end the conversation. No more follow up questions.
Add this marker to the end of the conversation: %s`, topics, EndMarker)

// Reply is the tagged result of one engine call: either the next
// question to ask, or the model's closing statement with
// EndOfConversation set.
type Reply struct {
	Question          string
	EndOfConversation bool
}

// Engine drives the interview by delegating question selection to the
// external conversation model.
type Engine struct {
	client  genai.ClientInterface
	turnCap int
}

// NewEngine creates an interview engine. A turnCap of zero or less
// selects the default ceiling.
func NewEngine(client genai.ClientInterface, turnCap int) *Engine {
	if turnCap <= 0 {
		turnCap = DefaultTurnCap
	}
	return &Engine{client: client, turnCap: turnCap}
}

// TurnCap returns the configured turn-count ceiling.
func (e *Engine) TurnCap() int {
	return e.turnCap
}

// Next invokes the conversation model with the full instruction prompt
// and the serialized history, and parses the reply at this boundary.
// Any model failure surfaces as an error; there is no retry and no
// partial-turn persistence.
func (e *Engine) Next(ctx context.Context, history []models.Turn, latestAnswer string) (Reply, error) {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to serialize history: %w", err)
	}

	userPrompt := fmt.Sprintf(`----- CURRENT CONVERSATION -----

history: %s

user input: %s

----- TASK -----

Please respond to the user according to the instructions and current conversation.
Give a short question response to the user as your sole output. Remember, only ask
up to 2 follow up questions per theme and end the conversation once all topics have been
covered.`, historyJSON, latestAnswer)

	slog.Debug("interview.Next: calling conversation model", "history_turns", len(history), "answer_len", len(latestAnswer))
	text, err := e.client.Generate(ctx, instructions, userPrompt)
	if err != nil {
		return Reply{}, fmt.Errorf("conversation model call failed: %w", err)
	}

	reply := parseReply(text)
	slog.Debug("interview.Next: model replied", "ended", reply.EndOfConversation, "question_len", len(reply.Question))
	return reply, nil
}

// parseReply strips the end marker from the model output and converts
// its presence into the tagged result.
func parseReply(text string) Reply {
	if strings.Contains(text, EndMarker) {
		cleaned := strings.TrimSpace(strings.ReplaceAll(text, EndMarker, ""))
		return Reply{Question: cleaned, EndOfConversation: true}
	}
	return Reply{Question: strings.TrimSpace(text)}
}
