// Package extract turns obituary text into structured facts by calling an
// LLM oracle. The oracle is opaque and non-deterministic across prompt
// versions, so responses are cached by content hash and never re-billed.
package extract

import (
	"context"
	"fmt"

	"kinforge/internal/model"
)

// Usage is the token accounting for one oracle call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Response is the oracle's raw output plus its accounting.
type Response struct {
	Raw    string `json:"raw"`
	Model  string `json:"model"`
	Usage  Usage  `json:"usage"`
	Cached bool   `json:"cached"`
}

// Oracle is the extraction contract. Implementations call a model; the
// caching layer wraps them.
type Oracle interface {
	// Name returns the provider name.
	Name() string

	// Extract runs the extraction prompt against text and returns the raw
	// JSON response.
	Extract(ctx context.Context, text, promptVersion string) (*Response, error)

	// IsAvailable checks the provider is configured and reachable.
	IsAvailable(ctx context.Context) bool
}

// NewOracle builds the configured provider. Only an OpenAI-compatible
// endpoint is supported; Ollama and other local runtimes work through
// BaseURL.
func NewOracle(cfg model.ExtractorConfig) (Oracle, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIOracle(cfg)
	default:
		return nil, fmt.Errorf("unknown extractor provider %q (use \"openai\", with base_url for compatible endpoints)", cfg.Provider)
	}
}
