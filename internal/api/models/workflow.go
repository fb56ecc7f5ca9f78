package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type NodeType string

const (
	NodeTypeInput     NodeType = "INPUT"
	NodeTypeProcess   NodeType = "PROCESS"
	NodeTypeCode      NodeType = "CODE"
	NodeTypeOutput    NodeType = "OUTPUT"
	NodeTypeCondition NodeType = "CONDITION"
	NodeTypeHTTP      NodeType = "HTTP"
	NodeTypeLogic     NodeType = "LOGIC"
	NodeTypeAudio     NodeType = "AUDIO"
)

// NodeTypes lists every node type the engine knows about.
var NodeTypes = []NodeType{
	NodeTypeInput,
	NodeTypeProcess,
	NodeTypeCode,
	NodeTypeOutput,
	NodeTypeCondition,
	NodeTypeHTTP,
	NodeTypeLogic,
	NodeTypeAudio,
}

type Position struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Name string   `json:"name"`
	// Layout only.
	Position Position        `json:"position"`
	Config   json.RawMessage `json:"config,omitempty"`
}

type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// WorkflowConfig is the graph snapshot a run executes against.
type WorkflowConfig struct {
	Version int    `json:"version"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}

var (
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrDanglingEdge  = errors.New("edge references unknown node")
	ErrEmptyNodeID   = errors.New("node id is empty")
	ErrNodeNotFound  = errors.New("node not found")
)

// Value implements driver.Valuer for GORM
func (wc WorkflowConfig) Value() (driver.Value, error) {
	return json.Marshal(wc)
}

// Scan implements sql.Scanner for GORM
func (wc *WorkflowConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, wc)
	case string:
		return json.Unmarshal([]byte(v), wc)
	default:
		return errors.New("failed to scan WorkflowConfig: expected []byte")
	}
}

// Validate checks node id uniqueness and that every edge points at existing nodes.
// Cycle detection belongs to the engine's ordering step.
func (wc WorkflowConfig) Validate() error {
	seen := make(map[string]struct{}, len(wc.Nodes))
	for _, node := range wc.Nodes {
		if node.ID == "" {
			return ErrEmptyNodeID
		}
		if _, ok := seen[node.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
		}
		seen[node.ID] = struct{}{}
	}
	for _, edge := range wc.Edges {
		if _, ok := seen[edge.Source]; !ok {
			return fmt.Errorf("%w: edge %s source %s", ErrDanglingEdge, edge.ID, edge.Source)
		}
		if _, ok := seen[edge.Target]; !ok {
			return fmt.Errorf("%w: edge %s target %s", ErrDanglingEdge, edge.ID, edge.Target)
		}
	}
	return nil
}

// FindNode returns the node with the given id.
func (wc WorkflowConfig) FindNode(id string) (Node, bool) {
	for _, node := range wc.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return Node{}, false
}

// DeleteNode removes the node and every edge touching it. It reports whether the node existed.
func (wc *WorkflowConfig) DeleteNode(id string) bool {
	found := false
	nodes := wc.Nodes[:0]
	for _, node := range wc.Nodes {
		if node.ID == id {
			found = true
			continue
		}
		nodes = append(nodes, node)
	}
	wc.Nodes = nodes

	edges := wc.Edges[:0]
	for _, edge := range wc.Edges {
		if edge.Source == id || edge.Target == id {
			continue
		}
		edges = append(edges, edge)
	}
	wc.Edges = edges
	return found
}

// Clone returns a deep copy so a run never observes later edits.
func (wc WorkflowConfig) Clone() WorkflowConfig {
	out := WorkflowConfig{
		Version: wc.Version,
		Nodes:   make([]Node, len(wc.Nodes)),
		Edges:   make([]Edge, len(wc.Edges)),
	}
	for i, node := range wc.Nodes {
		node.Config = append(json.RawMessage(nil), node.Config...)
		out.Nodes[i] = node
	}
	copy(out.Edges, wc.Edges)
	return out
}

// GetTypedConfig deserializes the node config into the expected type
func GetTypedConfig[T any](node Node) (T, error) {
	var result T
	if len(node.Config) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(node.Config, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal %s config of node %s: %w", node.Type, node.ID, err)
	}
	return result, nil
}

// Workflow is the stored definition. Config holds the current graph version.
type Workflow struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Name           string         `gorm:"not null" json:"name"`
	Description    string         `json:"description"`
	OrganizationID string         `gorm:"not null;index" json:"organizationId"`
	CreatorID      string         `json:"creatorId"`
	Active         bool           `gorm:"default:true" json:"active"`
	Config         WorkflowConfig `gorm:"type:jsonb" json:"config"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}
