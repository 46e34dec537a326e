// Package llm wraps the chat completion providers used for answer synthesis.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/docqa/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Client produces a single completion for the given conversation.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Options configures a provider client. Temperature defaults to zero.
type Options struct {
	Provider    string
	Model       string
	Temperature float32

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

var ErrMissingAPIKey = errors.New("openai provider selected but OPENAI_API_KEY not set")

func NewClient(cfg config.Config) (Client, error) {
	return New(Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	})
}

func New(opts Options) (Client, error) {
	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}
