package ai

import (
	"context"
	"errors"
	"io"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"maxTokens,omitempty"`
}

type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Config is the resolved connection info for one provider.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// Provider sends chat completions. provider selects the backend family.
type Provider interface {
	Chat(ctx context.Context, provider string, req ChatRequest, apiKey string, baseURL string) (ChatResponse, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, cfg Config, audio io.Reader, filename string, language string) (string, error)
}

// ConfigLoader resolves provider settings, typically per organization.
type ConfigLoader func(provider string) (Config, error)

var (
	ErrUnknownProvider = errors.New("unknown AI provider")
	ErrMissingAPIKey   = errors.New("missing AI API key")
	ErrEmptyResponse   = errors.New("AI provider returned no choices")
)

// Base URLs of OpenAI-compatible backends.
var knownBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1/",
	"ollama":     "http://localhost:11434/v1/",
	"openrouter": "https://openrouter.ai/api/v1/",
	"groq":       "https://api.groq.com/openai/v1/",
	"mistral":    "https://api.mistral.ai/v1/",
}

// StaticConfigLoader serves one default configuration for every provider name.
func StaticConfigLoader(defaults Config) ConfigLoader {
	return func(provider string) (Config, error) {
		cfg := defaults
		if provider != "" {
			cfg.Provider = strings.ToLower(provider)
		}
		if cfg.Provider != strings.ToLower(defaults.Provider) {
			// Only the endpoint of the default provider is known to match its key.
			cfg.BaseURL = ""
		}
		return cfg, nil
	}
}
