package processors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"flowengine/internal/ai"
	"flowengine/internal/api/models"
	"flowengine/internal/engine"
)

const (
	defaultAudioMaxBytes = 25 << 20
	transcriptToken      = "{{transcript}}"
)

// AudioProcessor downloads a media file, transcribes it and optionally runs an
// analysis prompt over the transcript.
type AudioProcessor struct {
	client      *http.Client
	transcriber ai.Transcriber
	provider    ai.Provider
	load        ai.ConfigLoader
}

func NewAudioProcessor(client *http.Client, transcriber ai.Transcriber, provider ai.Provider, load ai.ConfigLoader) *AudioProcessor {
	if client == nil {
		client = &http.Client{}
	}
	return &AudioProcessor{client: client, transcriber: transcriber, provider: provider, load: load}
}

func (slf *AudioProcessor) Process(ctx context.Context, node models.Node, ec *engine.ExecutionContext) (models.NodeOutput, error) {
	if slf.transcriber == nil || slf.load == nil {
		return engine.Failure("transcription is not configured"), nil
	}
	cfg, err := models.GetTypedConfig[models.AudioConfig](node)
	if err != nil {
		return engine.Failure("invalid audio config: %v", err), nil
	}

	rawURL, err := ec.Template(cfg.AudioURL)
	if err != nil {
		return engine.Failure("audio url: %v", err), nil
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return engine.Failure("invalid audio url %q", rawURL), nil
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultAudioMaxBytes
	}
	media, err := slf.download(ctx, u.String(), maxBytes)
	if err != nil {
		return engine.Failure("%v", err), nil
	}

	filename := path.Base(u.Path)
	if filename == "" || filename == "/" || filename == "." {
		filename = "audio.mp3"
	}

	aiCfg, err := ec.AIConfig(cfg.Provider, slf.load)
	if err != nil {
		return engine.Failure("AI config for %q: %v", cfg.Provider, err), nil
	}
	transcript, err := slf.transcriber.Transcribe(ctx, aiCfg, bytes.NewReader(media), filename, cfg.Language)
	if err != nil {
		return engine.Failure("transcription failed: %v", err), nil
	}

	data := map[string]any{
		"transcript": transcript,
		"filename":   filename,
		"bytes":      len(media),
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		return engine.Success(data), nil
	}

	if slf.provider == nil {
		return engine.Failure("AI provider is not configured"), nil
	}
	prompt, err := ec.Template(strings.ReplaceAll(cfg.Prompt, transcriptToken, transcript))
	if err != nil {
		return engine.Failure("analysis prompt: %v", err), nil
	}
	if !strings.Contains(cfg.Prompt, transcriptToken) {
		prompt += "\n\nTranscript:\n" + transcript
	}
	model := cfg.Model
	if model == "" {
		model = aiCfg.Model
	}

	resp, err := slf.provider.Chat(ctx, aiCfg.Provider, ai.ChatRequest{
		Model:    model,
		Messages: []ai.Message{{Role: ai.RoleUser, Content: prompt}},
	}, aiCfg.APIKey, aiCfg.BaseURL)
	if err != nil {
		out := engine.Failure("analysis failed: %v", err)
		out.Data = data
		return out, nil
	}
	data["analysis"] = resp.Content

	out := engine.Success(data)
	out.TokenUsage = tokenUsage(resp.Usage)
	return out, nil
}

func (slf *AudioProcessor) download(ctx context.Context, rawURL string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media request: %w", err)
	}
	resp, err := slf.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch media: status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", maxBytes)
	}
	media, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	if int64(len(media)) > maxBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", maxBytes)
	}
	return media, nil
}
