package processors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"flowengine/internal/ai"
	"flowengine/internal/api/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMediaServer(body []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp3" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(body)
	}))
}

func TestAudioProcessor_TranscribesAndAnalyses(t *testing.T) {
	media := []byte("ID3-fake-audio")
	server := newMediaServer(media)
	defer server.Close()

	transcriber := &fakeTranscriber{text: "the customer asked for a refund"}
	provider := &fakeProvider{reply: func(req ai.ChatRequest) (ai.ChatResponse, error) {
		return ai.ChatResponse{Content: "sentiment: negative", Usage: ai.Usage{TotalTokens: 11}}, nil
	}}
	p := NewAudioProcessor(nil, transcriber, provider, testAIConfig)
	ec := newContext(nil, success("call", map[string]any{"recording": server.URL + "/calls/42.mp3"}))

	out, err := p.Process(context.Background(), newNode("n", models.NodeTypeAudio, models.AudioConfig{
		AudioURL: "{{call.recording}}",
		Language: "en",
		Prompt:   "Rate the sentiment of: {{transcript}}",
	}), ec)
	require.NoError(t, err)

	require.Equal(t, models.NodeStatusSuccess, out.Status, out.Error)
	data := out.Data.(map[string]any)
	assert.Equal(t, "the customer asked for a refund", data["transcript"])
	assert.Equal(t, "sentiment: negative", data["analysis"])
	assert.Equal(t, "42.mp3", data["filename"])
	assert.Equal(t, media, transcriber.received)
	assert.Equal(t, int64(11), out.TokenUsage.TotalTokens)

	require.Len(t, provider.requests, 1)
	assert.Equal(t, "Rate the sentiment of: the customer asked for a refund", provider.requests[0].Messages[0].Content)
}

func TestAudioProcessor_TranscriptOnly(t *testing.T) {
	server := newMediaServer([]byte("audio"))
	defer server.Close()

	p := NewAudioProcessor(nil, &fakeTranscriber{text: "hello"}, nil, testAIConfig)
	out, err := p.Process(context.Background(), newNode("n", models.NodeTypeAudio, models.AudioConfig{AudioURL: server.URL + "/a.wav"}), newContext(nil))
	require.NoError(t, err)

	require.Equal(t, models.NodeStatusSuccess, out.Status, out.Error)
	assert.Nil(t, out.TokenUsage)
	_, analysed := out.Data.(map[string]any)["analysis"]
	assert.False(t, analysed)
}

func TestAudioProcessor_Failures(t *testing.T) {
	server := newMediaServer([]byte(strings.Repeat("x", 2048)))
	defer server.Close()
	p := NewAudioProcessor(nil, &fakeTranscriber{text: "t"}, nil, testAIConfig)

	tests := []struct {
		name string
		cfg  models.AudioConfig
		want string
	}{
		{"too large", models.AudioConfig{AudioURL: server.URL + "/big.mp3", MaxBytes: 1024}, "exceeds 1024 bytes"},
		{"not found", models.AudioConfig{AudioURL: server.URL + "/missing.mp3"}, "status 404"},
		{"bad url", models.AudioConfig{AudioURL: "file:///etc/passwd"}, "invalid audio url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Process(context.Background(), newNode("n", models.NodeTypeAudio, tt.cfg), newContext(nil))
			require.NoError(t, err)
			assert.Equal(t, models.NodeStatusError, out.Status)
			assert.Contains(t, out.Error, tt.want)
		})
	}
}
