package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"flowengine/internal/api/models"
	"flowengine/internal/engine"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetrics(t *testing.T) {
	var m Metrics = Noop{}
	m.NodeStarted(engine.RunInfo{}, models.Node{})
	m.NodeFinished(engine.RunInfo{}, models.Node{}, models.NodeOutput{})
	m.RunFinished(engine.RunInfo{}, engine.RunResult{})
	m.IncTaskTransition("running")
	m.IncTriggerFired("SCHEDULE", "enqueued")
	m.IncWebhookRejected("signature")
}

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProm("flowengine", reg)

	node := models.Node{ID: "a", Type: models.NodeTypeHTTP}
	m.NodeFinished(engine.RunInfo{}, node, models.NodeOutput{Status: models.NodeStatusSuccess, Duration: 20 * time.Millisecond})
	m.NodeFinished(engine.RunInfo{}, node, models.NodeOutput{Status: models.NodeStatusSkipped})
	started := time.Now()
	m.RunFinished(engine.RunInfo{}, engine.RunResult{
		Status:      models.RunStatusFailed,
		ErrorKind:   models.ErrorKindNode,
		TotalTokens: 42,
		StartedAt:   started,
		CompletedAt: started.Add(time.Second),
	})
	m.IncTaskTransition("completed")
	m.IncTriggerFired("SCHEDULE", "duplicate")
	m.IncWebhookRejected("signature")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.nodes.WithLabelValues("HTTP", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.nodes.WithLabelValues("HTTP", "skipped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("failed", "node")))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.tokens))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.tasks.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.triggers.WithLabelValues("SCHEDULE", "duplicate")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.webhookRejections.WithLabelValues("signature")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.nodeDuration))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "flowengine_runs_total")
}
