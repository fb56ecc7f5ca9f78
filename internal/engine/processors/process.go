package processors

import (
	"context"
	"encoding/json"
	"strings"

	"flowengine/internal/ai"
	"flowengine/internal/api/models"
	"flowengine/internal/engine"
)

// ProcessProcessor sends a templated prompt to a chat completion backend.
type ProcessProcessor struct {
	provider ai.Provider
	load     ai.ConfigLoader
}

func NewProcessProcessor(provider ai.Provider, load ai.ConfigLoader) *ProcessProcessor {
	return &ProcessProcessor{provider: provider, load: load}
}

func (slf *ProcessProcessor) Process(ctx context.Context, node models.Node, ec *engine.ExecutionContext) (models.NodeOutput, error) {
	if slf.provider == nil || slf.load == nil {
		return engine.Failure("AI provider is not configured"), nil
	}
	cfg, err := models.GetTypedConfig[models.ProcessConfig](node)
	if err != nil {
		return engine.Failure("invalid process config: %v", err), nil
	}

	prompt, err := ec.Template(cfg.Prompt)
	if err != nil {
		return engine.Failure("prompt: %v", err), nil
	}
	if strings.TrimSpace(prompt) == "" {
		return engine.Failure("prompt is empty"), nil
	}
	system, err := ec.Template(cfg.SystemPrompt)
	if err != nil {
		return engine.Failure("system prompt: %v", err), nil
	}

	aiCfg, err := ec.AIConfig(cfg.Provider, slf.load)
	if err != nil {
		return engine.Failure("AI config for %q: %v", cfg.Provider, err), nil
	}
	model := cfg.Model
	if model == "" {
		model = aiCfg.Model
	}
	if model == "" {
		return engine.Failure("no model configured for provider %q", aiCfg.Provider), nil
	}

	messages := make([]ai.Message, 0, 2)
	if system != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: system})
	}
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: prompt})

	resp, err := slf.provider.Chat(ctx, aiCfg.Provider, ai.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, aiCfg.APIKey, aiCfg.BaseURL)
	if err != nil {
		return engine.Failure("AI request failed: %v", err), nil
	}

	data := map[string]any{
		"content":  resp.Content,
		"model":    model,
		"provider": aiCfg.Provider,
	}
	if strings.EqualFold(cfg.ResponseFormat, "json") {
		var parsed any
		if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &parsed); err != nil {
			out := engine.Failure("AI response is not valid JSON: %v", err)
			out.Data = data
			out.TokenUsage = tokenUsage(resp.Usage)
			return out, nil
		}
		data["json"] = parsed
	}

	out := engine.Success(data)
	out.TokenUsage = tokenUsage(resp.Usage)
	return out, nil
}

func tokenUsage(u ai.Usage) *models.TokenUsage {
	return &models.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// stripCodeFence removes a surrounding markdown code block, which models often add around JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
