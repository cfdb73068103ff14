package provider

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/shift6/quotewatch/config"
	"github.com/shift6/quotewatch/models"
	openai_provider "github.com/shift6/quotewatch/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
)

// Provider is the language-model capability surface the matching pipeline
// depends on. Implementations must be safe for concurrent use.
type Provider interface {
	// Adjudicate asks whether the candidate span uses or closely
	// paraphrases the quote attributed to the client.
	Adjudicate(ctx context.Context, quoteText, span, clientLabel string) (models.Verdict, error)
	// CreateEmbedding returns one vector per input text.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	// Summarize produces a short markdown brief for a newly recorded hit.
	Summarize(ctx context.Context, in models.HitSummaryInput) (string, error)
}

// NewProviderFromConfig creates an LLM client from the loaded configuration,
// falling back to OPENAI_API_KEY when the config carries no key.
func NewProviderFromConfig(cfg config.LLMConfig) (Provider, error) {
	switch Client(cfg.Provider) {
	case OpenAI, "":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("llm api key not configured")
		}
		completionModel := cfg.CompletionModel
		if completionModel == "" {
			completionModel = "gpt-4o-mini"
		}
		embeddingModel := cfg.EmbeddingModel
		if embeddingModel == "" {
			embeddingModel = "text-embedding-3-small"
		}
		maxTokens := cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 1024
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		return openai_provider.NewClient(apiKey, completionModel, embeddingModel, cfg.Temperature, maxTokens, timeout), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
