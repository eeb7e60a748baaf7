package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"hypeseeker/internal/config"
)

// Tier selects a model backend strength: fast/cheap for bulk scoring,
// strong/expensive for enrichment.
type Tier string

const (
	TierFast   Tier = "fast"
	TierStrong Tier = "strong"
)

// Client is the single capability the scorer and enricher need from any
// model provider: text in, text out, at a chosen tier.
type Client interface {
	Invoke(ctx context.Context, tier Tier, prompt string, maxTokens int) (string, error)
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
// SDK-internal retries are disabled; retry policy belongs to WithRetry so
// there is exactly one place that decides backoff.
type OpenAIClient struct {
	client      openai.Client
	fastModel   string
	strongModel string
}

var _ Client = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg config.LLMConfig, apiKey string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: missing API key")
	}
	if strings.TrimSpace(cfg.FastModel) == "" || strings.TrimSpace(cfg.StrongModel) == "" {
		return nil, errors.New("llm: fast_model and strong_model must be configured")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		fastModel:   cfg.FastModel,
		strongModel: cfg.StrongModel,
	}, nil
}

func (c *OpenAIClient) Invoke(ctx context.Context, tier Tier, prompt string, maxTokens int) (string, error) {
	model := c.fastModel
	if tier == TierStrong {
		model = c.strongModel
	}
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:     model,
		MaxTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("model %s returned no choices", model)
	}
	return completion.Choices[0].Message.Content, nil
}
