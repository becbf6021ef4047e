package provider

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

// OpenAIConfig configures an OpenAI-compatible chat completion provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// HTTPClient overrides the transport; nil uses the library default.
	HTTPClient *http.Client
}

// OpenAIGenerator generates content through an OpenAI-compatible API.
type OpenAIGenerator struct {
	id     string
	model  string
	client *openai.Client
}

// NewOpenAI creates a generator registered under id.
func NewOpenAI(id string, cfg OpenAIConfig) *OpenAIGenerator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIGenerator{
		id:     id,
		model:  cfg.Model,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

// Generate sends prompt as a single user message.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, params Parameters) (*Generation, error) {
	model := g.model
	if params.Model != "" {
		model = params.Model
	}

	var messages []openai.ChatCompletionMessage
	if params.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: params.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(params.Temperature),
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return nil, g.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, slerrors.NewTransient(g.id, slerrors.ErrEmptyGeneration)
	}

	return &Generation{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: domain.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (g *OpenAIGenerator) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(g.id, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(g.id, reqErr.HTTPStatusCode, err)
	}
	if errors.Is(err, context.Canceled) {
		return slerrors.NewFatal(g.id, err)
	}
	return slerrors.NewTransient(g.id, err)
}
