package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_Chat(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hello there"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(WithMaxRetries(0))
	temperature := 0.2
	resp, err := client.Chat(context.Background(), "openai", ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "hi"},
		},
		Temperature: &temperature,
		MaxTokens:   50,
	}, "sk-test", server.URL+"/v1")
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)
	assert.Equal(t, int64(12), resp.Usage.PromptTokens)
	assert.Equal(t, "gpt-4o-mini", received["model"])
	messages, ok := received["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestOpenAIClient_RejectsUnknownProviderAndMissingKey(t *testing.T) {
	client := NewOpenAIClient()

	_, err := client.Chat(context.Background(), "acme-llm", ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}}, "key", "")
	require.ErrorIs(t, err, ErrUnknownProvider)

	_, err = client.Chat(context.Background(), "openai", ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}}, "", "")
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestStaticConfigLoader(t *testing.T) {
	load := StaticConfigLoader(Config{Provider: "openai", APIKey: "k", BaseURL: "http://proxy/v1", Model: "m"})

	cfg, err := load("")
	require.NoError(t, err)
	assert.Equal(t, "http://proxy/v1", cfg.BaseURL)

	cfg, err = load("ollama")
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Provider)
	assert.Empty(t, cfg.BaseURL)
}
