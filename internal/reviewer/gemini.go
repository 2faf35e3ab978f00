package reviewer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"google.golang.org/genai"
)

type GeminiReviewer struct {
	client *genai.Client
	model  string
}

func NewGeminiReviewer(apiKey, model string) (*GeminiReviewer, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &GeminiReviewer{client: client, model: model}, nil
}

func (r *GeminiReviewer) Name() string {
	return "gemini"
}

func (r *GeminiReviewer) Review(ctx context.Context, tool string, arguments json.RawMessage) (Verdict, error) {
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: systemPrompt + "\n\n" + reviewPrompt(tool, arguments)}}},
	}

	resp, err := r.client.Models.GenerateContent(ctx, r.model, contents, nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("gemini review request failed: %w", err)
	}

	var content string
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			content += part.Text
		}
	}

	return parseVerdict(content)
}
