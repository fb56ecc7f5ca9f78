package engine

import (
	"fmt"

	"flowengine/internal/api/models"
)

// graph is the adjacency view of a validated config.
type graph struct {
	nodes    map[string]models.Node
	order    []string
	incoming map[string][]models.Edge
	outgoing map[string][]models.Edge
}

func buildGraph(cfg models.WorkflowConfig) (*graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fault("", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	g := &graph{
		nodes:    make(map[string]models.Node, len(cfg.Nodes)),
		incoming: make(map[string][]models.Edge),
		outgoing: make(map[string][]models.Edge),
	}
	for _, node := range cfg.Nodes {
		g.nodes[node.ID] = node
	}
	for _, edge := range cfg.Edges {
		g.incoming[edge.Target] = append(g.incoming[edge.Target], edge)
		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge)
	}
	order, err := TopologicalOrder(cfg)
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// TopologicalOrder sorts node ids with Kahn's algorithm. Ties keep config order.
func TopologicalOrder(cfg models.WorkflowConfig) ([]string, error) {
	inDegree := make(map[string]int, len(cfg.Nodes))
	adj := make(map[string][]string, len(cfg.Nodes))
	for _, node := range cfg.Nodes {
		inDegree[node.ID] = 0
	}
	for _, edge := range cfg.Edges {
		adj[edge.Source] = append(adj[edge.Source], edge.Target)
		inDegree[edge.Target]++
	}

	queue := make([]string, 0, len(cfg.Nodes))
	for _, node := range cfg.Nodes {
		if inDegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	order := make([]string, 0, len(cfg.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(cfg.Nodes) {
		return nil, fault("", ErrCycle)
	}
	return order, nil
}

func (g *graph) isTerminal(id string) bool {
	return len(g.outgoing[id]) == 0
}

func (g *graph) sources(id string) []string {
	edges := g.incoming[id]
	out := make([]string, 0, len(edges))
	seen := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		if _, ok := seen[e.Source]; ok {
			continue
		}
		seen[e.Source] = struct{}{}
		out = append(out, e.Source)
	}
	return out
}
