package ai

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned when a provider answers with no usable text.
var ErrEmptyCompletion = errors.New("empty completion")

// Message is one role/content pair of a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options bounds a single completion call.
type Options struct {
	// MaxTokens caps the response length. Zero leaves the provider default.
	MaxTokens int
}

// ChatGenerator produces one completion for an ordered chat prompt.
// Only the first choice is returned; providers that offer more are truncated.
// All LLM providers (OpenAI-compatible, Gemini, Ollama, mock) implement this interface.
type ChatGenerator interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}
