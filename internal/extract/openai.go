package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"kinforge/internal/model"
)

// Rough per-million-token prices for cost accounting. Unknown models cost
// zero rather than guessing.
var modelPricing = map[string]struct{ in, out float64 }{
	openai.GPT4oMini: {0.15, 0.60},
	openai.GPT4o:     {2.50, 10.00},
}

// OpenAIOracle calls an OpenAI-compatible chat completion endpoint.
type OpenAIOracle struct {
	client *openai.Client
	cfg    model.ExtractorConfig
}

// NewOpenAIOracle creates the provider.
func NewOpenAIOracle(cfg model.ExtractorConfig) (*OpenAIOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("extractor API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIOracle{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}, nil
}

// Name returns the provider name.
func (p *OpenAIOracle) Name() string {
	return "openai"
}

// IsAvailable checks the endpoint answers a lightweight call.
func (p *OpenAIOracle) IsAvailable(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}

// Extract runs the extraction prompt and returns the raw JSON response with
// token accounting.
func (p *OpenAIOracle) Extract(ctx context.Context, text, promptVersion string) (*Response, error) {
	modelName := p.cfg.Model
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	maxTokens := p.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4000
	}
	timeout := p.cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(text, promptVersion)},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("extraction call returned no choices")
	}

	return &Response{
		Raw:   strings.TrimSpace(resp.Choices[0].Message.Content),
		Model: modelName,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			CostUSD:          cost(modelName, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		},
	}, nil
}

func cost(modelName string, promptTokens, completionTokens int) float64 {
	price, ok := modelPricing[modelName]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000*price.in + float64(completionTokens)/1_000_000*price.out
}
