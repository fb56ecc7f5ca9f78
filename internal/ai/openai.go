package ai

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient talks to OpenAI and every backend exposing the same API.
type OpenAIClient struct {
	httpClient         *http.Client
	maxRetries         int
	transcriptionModel string
}

type OpenAIOption func(*OpenAIClient)

func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(c *OpenAIClient) {
		c.httpClient = client
	}
}

func WithMaxRetries(maxRetries int) OpenAIOption {
	return func(c *OpenAIClient) {
		c.maxRetries = maxRetries
	}
}

func WithTranscriptionModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.transcriptionModel = model
	}
}

func NewOpenAIClient(opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		maxRetries:         2,
		transcriptionModel: string(openai.AudioModelWhisper1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (slf *OpenAIClient) client(provider string, apiKey string, baseURL string) (openai.Client, error) {
	provider = strings.ToLower(provider)
	if provider == "" {
		provider = "openai"
	}
	if baseURL == "" {
		known, ok := knownBaseURLs[provider]
		if !ok {
			return openai.Client{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
		}
		baseURL = known
	}
	if apiKey == "" && provider != "ollama" {
		return openai.Client{}, ErrMissingAPIKey
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(slf.maxRetries),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if slf.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(slf.httpClient))
	}
	return openai.NewClient(opts...), nil
}

func (slf *OpenAIClient) Chat(ctx context.Context, provider string, req ChatRequest, apiKey string, baseURL string) (ChatResponse, error) {
	client, err := slf.client(provider, apiKey, baseURL)
	if err != nil {
		return ChatResponse{}, err
	}
	if len(req.Messages) == 0 {
		return ChatResponse{}, fmt.Errorf("no messages provided")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return ChatResponse{}, ErrEmptyResponse
	}

	return ChatResponse{
		Content: completion.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
	}, nil
}

func (slf *OpenAIClient) Transcribe(ctx context.Context, cfg Config, audio io.Reader, filename string, language string) (string, error) {
	client, err := slf.client(cfg.Provider, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return "", err
	}
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filename, contentType),
		Model: openai.AudioModel(slf.transcriptionModel),
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	transcription, err := client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return transcription.Text, nil
}
