// Package llm wraps the text-generation endpoint used for answers.
package llm

import (
	"context"
	"fmt"

	"github.com/fabfab/doc-chat/config"
)

// Fixed decoding parameters for answer generation.
const (
	Temperature = 0.7
	TopP        = 0.9
	MaxTokens   = 1000
)

type Client interface {
	// Generate returns the model's completion for prompt. Transport trouble
	// and non-2xx statuses surface as errors; the responder layer decides
	// how to degrade them.
	Generate(ctx context.Context, prompt string) (string, error)
}

// StatusError reports a non-2xx response from the generation endpoint,
// keeping the status code available for user-facing degradation.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation endpoint returned status %d", e.Code)
}

func NewClient(cfg config.Config) (Client, error) {
	switch cfg.LLM.Provider {
	case config.ProviderAIHub:
		if cfg.AIHubAPIKey == "" {
			return nil, fmt.Errorf("aihub provider selected but AIHUB_API_KEY not set")
		}
		return NewAIHubClient(cfg), nil
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLM.Provider)
	}
}
