package ai

import (
	"context"
	"fmt"
)

// MockGenerator answers without calling any model. It echoes the latest
// user message so local runs and tests get a deterministic reply.
type MockGenerator struct{}

// NewMockGenerator creates a mock generator.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

var _ ChatGenerator = (*MockGenerator)(nil)

func (m *MockGenerator) Chat(ctx context.Context, messages []Message, _ Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return fmt.Sprintf("[MOCK] Received your message: %q.", truncate(messages[i].Content, 100)), nil
		}
	}
	return "[MOCK] This is a mock response.", nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
