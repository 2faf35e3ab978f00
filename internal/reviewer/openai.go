package reviewer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type OpenAIReviewer struct {
	client *openai.Client
	model  string
}

func NewOpenAIReviewer(apiKey, baseURL, model string) *OpenAIReviewer {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return &OpenAIReviewer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (r *OpenAIReviewer) Name() string {
	return "openai"
}

func (r *OpenAIReviewer) Review(ctx context.Context, tool string, arguments json.RawMessage) (Verdict, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: reviewPrompt(tool, arguments)},
		},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("openai review request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, fmt.Errorf("no choices returned")
	}

	return parseVerdict(resp.Choices[0].Message.Content)
}
