package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig   = errors.New("invalid workflow config")
	ErrUnknownNodeType = errors.New("unknown node type")
	ErrCycle           = errors.New("workflow graph contains a cycle")
	ErrRunTimeout      = errors.New("run timed out")
	ErrOutputWritten   = errors.New("node output already written")
	ErrStorage         = errors.New("storage failure")
)

// FaultError is an engine or infrastructure failure that aborts the whole run.
// Node business failures never use it.
type FaultError struct {
	NodeID string
	Err    error
}

func (e *FaultError) Error() string {
	if e.NodeID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

func fault(nodeID string, err error) error {
	var fe *FaultError
	if errors.As(err, &fe) {
		return err
	}
	return &FaultError{NodeID: nodeID, Err: err}
}

// IsFault reports whether err aborted a run as opposed to a node failing.
func IsFault(err error) bool {
	var fe *FaultError
	return errors.As(err, &fe)
}
