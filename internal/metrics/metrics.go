package metrics

import (
	"net/http"

	"flowengine/internal/api/models"
	"flowengine/internal/engine"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records engine, queue and trigger activity.
type Metrics interface {
	engine.Observer
	IncTaskTransition(status string)
	IncTriggerFired(triggerType, outcome string)
	IncWebhookRejected(reason string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) NodeStarted(engine.RunInfo, models.Node)                      {}
func (Noop) NodeFinished(engine.RunInfo, models.Node, models.NodeOutput) {}
func (Noop) RunFinished(engine.RunInfo, engine.RunResult)                {}
func (Noop) IncTaskTransition(string)                                    {}
func (Noop) IncTriggerFired(string, string)                              {}
func (Noop) IncWebhookRejected(string)                                   {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	nodes             *prometheus.CounterVec
	nodeDuration      *prometheus.HistogramVec
	tokens            prometheus.Counter
	tasks             *prometheus.CounterVec
	triggers          *prometheus.CounterVec
	webhookRejections *prometheus.CounterVec
}

func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Workflow runs by final status and error kind",
		}, []string{"status", "error_kind"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall clock duration of workflow runs",
			Buckets:   prometheus.DefBuckets,
		}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_total",
			Help:      "Node executions by type and status",
		}, []string{"type", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node execution latency by type",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_tokens_total",
			Help:      "AI tokens consumed by workflow runs",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Queue task transitions by target status",
		}, []string{"status"}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_firings_total",
			Help:      "Trigger firings by type and outcome",
		}, []string{"type", "outcome"}),
		webhookRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_rejections_total",
			Help:      "Rejected webhook calls by reason",
		}, []string{"reason"}),
	}
	reg.MustRegister(p.runs, p.runDuration, p.nodes, p.nodeDuration, p.tokens, p.tasks, p.triggers, p.webhookRejections)
	return p
}

func (p *Prom) NodeStarted(run engine.RunInfo, node models.Node) {}

func (p *Prom) NodeFinished(run engine.RunInfo, node models.Node, out models.NodeOutput) {
	// Skipped nodes never ran.
	if out.Status != models.NodeStatusSkipped {
		p.nodeDuration.WithLabelValues(string(node.Type)).Observe(out.Duration.Seconds())
	}
	p.nodes.WithLabelValues(string(node.Type), string(out.Status)).Inc()
}

func (p *Prom) RunFinished(run engine.RunInfo, result engine.RunResult) {
	p.runs.WithLabelValues(string(result.Status), string(result.ErrorKind)).Inc()
	if !result.StartedAt.IsZero() && !result.CompletedAt.IsZero() {
		p.runDuration.Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
	}
	if result.TotalTokens > 0 {
		p.tokens.Add(float64(result.TotalTokens))
	}
}

func (p *Prom) IncTaskTransition(status string) {
	p.tasks.WithLabelValues(status).Inc()
}

func (p *Prom) IncTriggerFired(triggerType, outcome string) {
	p.triggers.WithLabelValues(triggerType, outcome).Inc()
}

func (p *Prom) IncWebhookRejected(reason string) {
	p.webhookRejections.WithLabelValues(reason).Inc()
}

// Handler serves the given gatherer for /metrics.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
