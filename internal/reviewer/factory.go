package reviewer

import (
	"fmt"

	"github.com/aymenfurter/polyclaw-sub001/internal/config"
)

// New builds the configured reviewer provider.
func New(cfg config.ReviewerConfig) (Reviewer, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIReviewer(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "anthropic":
		return NewAnthropicReviewer(cfg.APIKey, cfg.Model), nil
	case "gemini":
		return NewGeminiReviewer(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown reviewer provider %q", cfg.Provider)
	}
}
