package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIGenerator calls any OpenAI-compatible chat completions endpoint
// (OpenAI, vLLM, LiteLLM, OpenRouter, Deepseek, ...).
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator builds an OpenAI-compatible ChatGenerator.
// baseURL should include the /v1 prefix; empty uses the OpenAI default.
// apiKey can be empty for local models that do not require authentication.
func NewOpenAIGenerator(baseURL, apiKey, model string) *OpenAIGenerator {
	var options []option.RequestOption
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		options = append(options, option.WithAPIKey(apiKey))
	}
	// Single attempt per call; callers own retries.
	options = append(options, option.WithMaxRetries(0))
	client := openai.NewClient(options...)
	return &OpenAIGenerator{client: &client, model: strings.TrimSpace(model)}
}

// Chat implements ChatGenerator using the chat completions API.
func (g *OpenAIGenerator) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("openai generation model required")
	}
	params := openai.ChatCompletionNewParams{
		Messages: toOpenAIMessages(messages),
		Model:    g.model,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: %w", ErrEmptyCompletion)
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
