package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

// DefaultOllamaURL is the address of a local Ollama server.
const DefaultOllamaURL = "http://127.0.0.1:11434"

// OllamaConfig configures an Ollama provider.
type OllamaConfig struct {
	BaseURL string
	Model   string
	// HTTPClient overrides the transport; nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// OllamaGenerator generates content with a local or remote Ollama server.
type OllamaGenerator struct {
	id     string
	model  string
	client *api.Client
}

// NewOllama creates a generator registered under id.
func NewOllama(id string, cfg OllamaConfig) (*OllamaGenerator, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultOllamaURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url %q: %w", raw, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaGenerator{
		id:     id,
		model:  cfg.Model,
		client: api.NewClient(base, httpClient),
	}, nil
}

// Generate runs a non-streaming generate request.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, params Parameters) (*Generation, error) {
	model := g.model
	if params.Model != "" {
		model = params.Model
	}

	stream := false
	options := map[string]any{}
	if params.Temperature != 0 {
		options["temperature"] = params.Temperature
	}
	if params.MaxTokens != 0 {
		options["num_predict"] = params.MaxTokens
	}
	req := &api.GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		System:  params.System,
		Stream:  &stream,
		Options: options,
	}

	var (
		content strings.Builder
		usage   domain.TokenUsage
		used    string
	)
	err := g.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		content.WriteString(resp.Response)
		if resp.Done {
			used = resp.Model
			usage = domain.TokenUsage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, g.classify(err)
	}

	return &Generation{Content: content.String(), Model: used, Usage: usage}, nil
}

func (g *OllamaGenerator) classify(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(g.id, statusErr.StatusCode, err)
	}
	if errors.Is(err, context.Canceled) {
		return slerrors.NewFatal(g.id, err)
	}
	return slerrors.NewTransient(g.id, err)
}
