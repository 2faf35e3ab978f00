package reviewer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicReviewer struct {
	client anthropic.Client
	model  string
}

func NewAnthropicReviewer(apiKey, model string) *AnthropicReviewer {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicReviewer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (r *AnthropicReviewer) Name() string {
	return "anthropic"
}

func (r *AnthropicReviewer) Review(ctx context.Context, tool string, arguments json.RawMessage) (Verdict, error) {
	msg, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(reviewPrompt(tool, arguments))),
		},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("anthropic review request failed: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}

	return parseVerdict(content)
}
