package ai

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
)

// jsonGuard goes last so the model's output stays machine-readable.
const jsonGuard = `
Reply with valid JSON only.
No text outside the JSON document.
A reply that breaks the format is discarded.
`

type OpenAIClient struct {
	client *openai.Client
	model  string
	log    *slog.Logger
}

func NewOpenAIClient(apiKey, model string, log *slog.Logger) *OpenAIClient {
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
		log:    log.With("component", "openai"),
	}
}

func (c *OpenAIClient) GetReply(ctx context.Context, systemPrompt string, inputJSON string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: inputJSON},
			{Role: openai.ChatMessageRoleSystem, Content: jsonGuard},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		c.log.Error("chat completion failed", "error", err)
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}

	raw := resp.Choices[0].Message.Content
	c.log.Debug("raw completion", "content", short(raw))
	return raw, nil
}

const maxLogBytes = 180

// short trims s for logging without splitting a UTF-8 sequence.
func short(s string) string {
	if len(s) <= maxLogBytes {
		return s
	}
	cut := maxLogBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
