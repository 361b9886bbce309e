// Package llm provides the text-generation backends agents run against.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sita/pkg/config"
)

// Prompt is a single generation request.
type Prompt struct {
	System      string
	User        string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Generation is the generated text. Degraded marks a synthetic result that was
// produced because the backend was unavailable.
type Generation struct {
	Text     string
	Model    string
	Provider string
	Degraded bool
}

type Generator interface {
	Generate(ctx context.Context, p Prompt) (*Generation, error)
}

// New builds the generator selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Generator, error) {
	switch cfg.Provider {
	case "", "mock":
		return NewMockGenerator(), nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("llm: url is required for the http provider")
		}
		return NewHTTPGenerator(cfg.URL, cfg.APIKey, cfg.Timeout, logger), nil
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, logger)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
