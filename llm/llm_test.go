package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/docqa/config"
)

func TestNewClientOllama(t *testing.T) {
	cfg := config.Config{
		LLM: config.LLMConfig{
			Provider: config.ProviderOllama,
			Model:    "llama3",
		},
		OllamaHost: "http://localhost:11434",
	}

	client, err := NewClient(cfg)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewClientOpenAIMissingKey(t *testing.T) {
	cfg := config.Config{
		LLM: config.LLMConfig{
			Provider: config.ProviderOpenAI,
			Model:    "gpt-4o-mini",
		},
	}

	_, err := NewClient(cfg)
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := New(Options{Provider: "bedrock"})
	require.Error(t, err)
}

func TestOllamaGenerate(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: RoleAssistant, Content: "  The sky is blue.\n"},
			Done:    true,
		})
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "llama3"})
	answer, err := client.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "answer from context"},
		{Role: RoleUser, Content: "What color is the sky?"},
	})
	require.NoError(t, err)

	assert.Equal(t, "The sky is blue.", answer)
	assert.Equal(t, "llama3", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.Equal(t, "What color is the sky?", got.Messages[1].Content)
}

func TestOllamaGenerateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model \"missing\" not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "missing"})
	_, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
