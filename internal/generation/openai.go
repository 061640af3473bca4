package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultModel   = "gpt-4o-mini"
	requestTimeout = 60 * time.Second

	// Sampling parameters from the production prompt tuning.
	generationTemperature = 0.8
	generationMaxTokens   = 4000
)

// ErrNotConfigured is returned when the OpenAI API key is absent.
var ErrNotConfigured = errors.New("generation gateway not configured")

// Gateway produces raw text for a generation request. The text may be
// wrapped in formatting noise; callers parse it with ParseBatch.
type Gateway interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// OpenAIGateway calls the OpenAI chat completions API.
type OpenAIGateway struct {
	client *openai.Client
	model  string
}

// NewOpenAIGateway creates a gateway from the given API key. An empty model
// selects the default. Returns ErrNotConfigured when the key is missing.
func NewOpenAIGateway(apiKey, model string) (*OpenAIGateway, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = defaultModel
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: requestTimeout}

	return &OpenAIGateway{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Generate sends the request and returns the raw completion text. No retry
// happens here; retries and backoff belong to the caller.
func (g *OpenAIGateway) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   generationMaxTokens,
		Temperature: generationTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
