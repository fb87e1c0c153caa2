package llm

import (
	"context"
	"errors"
)

// ErrEmptyReply is returned when the model answers with no content.
var ErrEmptyReply = errors.New("empty reply from language model")

// Reply is a completed model response with its token usage.
type Reply struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Message represents a chat message sent to the model.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Client defines the interface for LLM providers.
// Implementations report failures as errors; choosing what the user hears
// instead is left to the caller.
type Client interface {
	// Complete answers userText under the given persona (system) prompt.
	Complete(ctx context.Context, userText, persona string) (Reply, error)

	// Translate returns text translated to targetLanguage and nothing else.
	Translate(ctx context.Context, text, targetLanguage string) (Reply, error)
}
