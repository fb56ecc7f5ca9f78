package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"flowengine/internal/api/models"
	"flowengine/internal/engine/resolver"

	"github.com/rs/zerolog"
)

const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

type Options struct {
	RunTimeout      time.Duration
	NodeTimeout     time.Duration
	StrictVariables bool
}

// Observer is notified from the engine goroutine as a run progresses.
type Observer interface {
	NodeStarted(run RunInfo, node models.Node)
	NodeFinished(run RunInfo, node models.Node, out models.NodeOutput)
	RunFinished(run RunInfo, result RunResult)
}

type RunRequest struct {
	Run       RunInfo
	Config    models.WorkflowConfig
	Input     map[string]any
	Variables map[string]any
}

type RunResult struct {
	Status       models.RunStatus
	Outputs      map[string]models.NodeOutput
	Output       any
	Error        string
	ErrorKind    models.ErrorKind
	FailedNodeID string
	TotalTokens  int64
	// Sum of the executed nodes' durations.
	Duration    time.Duration
	StartedAt   time.Time
	CompletedAt time.Time
}

type Engine struct {
	registry  *Registry
	options   Options
	observers []Observer
	logger    zerolog.Logger
}

func NewEngine(registry *Registry, options Options, logger zerolog.Logger, observers ...Observer) *Engine {
	if options.RunTimeout <= 0 {
		options.RunTimeout = 5 * time.Minute
	}
	if options.NodeTimeout <= 0 {
		options.NodeTimeout = 2 * time.Minute
	}
	return &Engine{
		registry:  registry,
		options:   options,
		observers: observers,
		logger:    logger,
	}
}

type nodeResult struct {
	node models.Node
	out  models.NodeOutput
	err  error
}

// Run executes the graph until every node has an output or a fault aborts it.
// The returned error is non-nil only for engine faults; node failures are
// reported through the result's status.
func (slf *Engine) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	startedAt := time.Now()
	result := RunResult{Status: models.RunStatusRunning, StartedAt: startedAt}

	cfg := req.Config.Clone()
	g, err := buildGraph(cfg)
	if err == nil {
		err = slf.registry.Check(cfg)
	}
	if err != nil {
		return slf.finishFault(req.Run, result, nil, err), err
	}

	ec := NewExecutionContext(req.Run, req.Input, req.Variables)
	ec.Resolver = resolver.Resolver{Strict: slf.options.StrictVariables}
	for _, id := range g.order {
		ec.SetUpstream(id, g.sources(id))
	}

	runCtx, cancel := context.WithTimeout(ctx, slf.options.RunTimeout)
	defer cancel()

	remaining := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		remaining[id] = len(g.incoming[id])
	}
	ready := make([]string, 0, len(g.nodes))
	for _, id := range g.order {
		if remaining[id] == 0 {
			ready = append(ready, id)
		}
	}

	// Buffered so a node goroutine never blocks after the engine stops listening.
	results := make(chan nodeResult, len(g.nodes))
	running := 0
	var firstFailure *models.NodeOutput

	stopped := func() error {
		err := fault("", fmt.Errorf("%w after %s", ErrRunTimeout, slf.options.RunTimeout))
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fault("", fmt.Errorf("run cancelled: %w", runCtx.Err()))
		}
		slf.logger.Warn().Err(err).Str("executionId", req.Run.ExecutionID).Int("running", running).Msg("Run stopped before completion")
		return err
	}

	settle := func(node models.Node, out models.NodeOutput) error {
		if err := ec.setOutput(out); err != nil {
			return fault(node.ID, err)
		}
		for _, obs := range slf.observers {
			obs.NodeFinished(req.Run, node, out)
		}
		if out.Status == models.NodeStatusError && firstFailure == nil {
			failed := out
			firstFailure = &failed
		}
		for _, edge := range g.outgoing[node.ID] {
			remaining[edge.Target]--
			if remaining[edge.Target] == 0 {
				ready = append(ready, edge.Target)
			}
		}
		return nil
	}

	for len(ready) > 0 || running > 0 {
		for len(ready) > 0 {
			id := ready[0]
			ready = ready[1:]
			node := g.nodes[id]

			if skip, ok := slf.skipReason(g, ec, node); ok {
				if err := settle(node, skip); err != nil {
					return slf.finishFault(req.Run, result, ec, err), err
				}
				continue
			}

			processor, _ := slf.registry.Get(node.Type)
			for _, obs := range slf.observers {
				obs.NodeStarted(req.Run, node)
			}
			running++
			go slf.execute(runCtx, processor, node, ec, results)
		}

		if running == 0 {
			break
		}

		select {
		case r := <-results:
			running--
			if r.err != nil && runCtx.Err() != nil {
				err := stopped()
				return slf.finishFault(req.Run, result, ec, err), err
			}
			if r.err != nil {
				cancel()
				err := fault(r.node.ID, r.err)
				slf.logger.Error().Err(err).Str("executionId", req.Run.ExecutionID).Str("nodeId", r.node.ID).Msg("Engine fault, aborting run")
				return slf.finishFault(req.Run, result, ec, err), err
			}
			if err := settle(r.node, r.out); err != nil {
				cancel()
				return slf.finishFault(req.Run, result, ec, err), err
			}
		case <-runCtx.Done():
			err := stopped()
			return slf.finishFault(req.Run, result, ec, err), err
		}
	}

	result.Outputs = ec.Outputs()
	result.CompletedAt = time.Now()
	slf.summarize(&result)
	result.Status = models.RunStatusCompleted
	for id := range g.nodes {
		if !g.isTerminal(id) {
			continue
		}
		if out, ok := result.Outputs[id]; ok && out.Failed() {
			result.Status = models.RunStatusFailed
			break
		}
	}
	if result.Status == models.RunStatusFailed {
		result.ErrorKind = models.ErrorKindNode
		if firstFailure != nil {
			result.Error = firstFailure.Error
			result.FailedNodeID = firstFailure.NodeID
		} else {
			result.Error = "workflow did not complete"
		}
	}
	result.Output = collectOutput(g, result.Outputs)

	for _, obs := range slf.observers {
		obs.RunFinished(req.Run, result)
	}
	return result, nil
}

// skipReason decides whether a node runs. Any failed dependency skips it as a
// failure; a node whose every inbound edge is inactive is skipped silently.
func (slf *Engine) skipReason(g *graph, ec *ExecutionContext, node models.Node) (models.NodeOutput, bool) {
	incoming := g.incoming[node.ID]
	if len(incoming) == 0 {
		return models.NodeOutput{}, false
	}

	now := time.Now()
	active := 0
	for _, edge := range incoming {
		src, ok := ec.Output(edge.Source)
		if !ok {
			continue
		}
		if src.Failed() {
			return models.NodeOutput{
				NodeID:      node.ID,
				NodeName:    node.Name,
				Status:      models.NodeStatusSkipped,
				Error:       fmt.Sprintf("upstream node %s failed", edge.Source),
				StartedAt:   now,
				CompletedAt: now,
			}, true
		}
		if edgeActive(g.nodes[edge.Source], src, edge) {
			active++
		}
	}
	if active == 0 {
		return models.NodeOutput{
			NodeID:      node.ID,
			NodeName:    node.Name,
			Status:      models.NodeStatusSkipped,
			Error:       "branch not taken",
			Inactive:    true,
			StartedAt:   now,
			CompletedAt: now,
		}, true
	}
	return models.NodeOutput{}, false
}

func edgeActive(source models.Node, out models.NodeOutput, edge models.Edge) bool {
	if out.Status != models.NodeStatusSuccess {
		return false
	}
	if source.Type != models.NodeTypeCondition {
		return true
	}
	if edge.SourceHandle != BranchTrue && edge.SourceHandle != BranchFalse {
		return true
	}
	data, ok := out.Data.(map[string]any)
	if !ok {
		return false
	}
	branch, _ := data["branch"].(string)
	return branch == edge.SourceHandle
}

func (slf *Engine) execute(ctx context.Context, p Processor, node models.Node, ec *ExecutionContext, results chan<- nodeResult) {
	startedAt := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slf.logger.Error().Interface("panic", r).Str("nodeId", node.ID).Bytes("stack", debug.Stack()).Msg("Processor panicked")
			results <- nodeResult{node: node, err: fmt.Errorf("processor panic: %v", r)}
		}
	}()

	timeout := slf.options.NodeTimeout
	if settings, err := models.GetTypedConfig[models.NodeSettings](node); err == nil && settings.NodeTimeoutMs > 0 {
		timeout = time.Duration(settings.NodeTimeoutMs) * time.Millisecond
	}
	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := p.Process(nodeCtx, node, ec)
	if err == nil && out.Status == "" {
		err = fmt.Errorf("processor for %s returned no status", node.Type)
	}
	if err != nil && errors.Is(nodeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		// The node's own deadline is a node failure, not an engine fault.
		out, err = Failure("node timed out after %s", timeout), nil
	}

	completedAt := time.Now()
	out.NodeID = node.ID
	out.NodeName = node.Name
	out.StartedAt = startedAt
	out.CompletedAt = completedAt
	out.Duration = completedAt.Sub(startedAt)
	results <- nodeResult{node: node, out: out, err: err}
}

func (slf *Engine) summarize(result *RunResult) {
	var tokens models.TokenUsage
	var duration time.Duration
	for _, out := range result.Outputs {
		if out.Status == models.NodeStatusSkipped {
			continue
		}
		tokens.Add(out.TokenUsage)
		duration += out.Duration
	}
	result.TotalTokens = tokens.TotalTokens
	result.Duration = duration
}

func (slf *Engine) finishFault(run RunInfo, result RunResult, ec *ExecutionContext, err error) RunResult {
	if ec != nil {
		result.Outputs = ec.Outputs()
	}
	result.CompletedAt = time.Now()
	slf.summarize(&result)
	result.Status = models.RunStatusFailed
	result.Error = err.Error()
	result.ErrorKind = models.ErrorKindFault
	var fe *FaultError
	if errors.As(err, &fe) {
		result.FailedNodeID = fe.NodeID
	}
	for _, obs := range slf.observers {
		obs.RunFinished(run, result)
	}
	return result
}

// collectOutput prefers OUTPUT nodes; without any, terminal nodes are used.
// A single contributing node yields its data directly.
func collectOutput(g *graph, outputs map[string]models.NodeOutput) any {
	var picked []models.NodeOutput
	for _, id := range g.order {
		if g.nodes[id].Type == models.NodeTypeOutput {
			if out, ok := outputs[id]; ok && out.Status == models.NodeStatusSuccess {
				picked = append(picked, out)
			}
		}
	}
	if len(picked) == 0 {
		for _, id := range g.order {
			if !g.isTerminal(id) {
				continue
			}
			if out, ok := outputs[id]; ok && out.Status == models.NodeStatusSuccess {
				picked = append(picked, out)
			}
		}
	}
	switch len(picked) {
	case 0:
		return nil
	case 1:
		return picked[0].Data
	}
	merged := make(map[string]any, len(picked))
	for _, out := range picked {
		key := out.NodeName
		if key == "" {
			key = out.NodeID
		}
		merged[key] = out.Data
	}
	return merged
}

// RunNode executes a single node against an existing context, for interactive previews.
func (slf *Engine) RunNode(ctx context.Context, node models.Node, ec *ExecutionContext) (models.NodeOutput, error) {
	processor, err := slf.registry.Get(node.Type)
	if err != nil {
		return models.NodeOutput{}, fault(node.ID, err)
	}
	results := make(chan nodeResult, 1)
	slf.execute(ctx, processor, node, ec, results)
	r := <-results
	if r.err != nil {
		return r.out, fault(node.ID, r.err)
	}
	return r.out, nil
}
