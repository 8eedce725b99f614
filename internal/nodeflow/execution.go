package nodeflow

import (
	"slices"
	"time"
)

// ExecutionStatus is the state of a run.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusPaused    ExecutionStatus = "paused"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// NodeStatus is the recorded outcome of a single node.
type NodeStatus string

const (
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusWaiting   NodeStatus = "waiting"
	NodeStatusApproved  NodeStatus = "approved"
	NodeStatusRejected  NodeStatus = "rejected"
)

// Done reports whether the node's outgoing edges can be resolved.
func (s NodeStatus) Done() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusSkipped, NodeStatusApproved:
		return true
	}
	return false
}

// Execution is the durable record of one run.
type Execution struct {
	ID            string                 `json:"id"`
	WorkflowID    string                 `json:"workflow_id"`
	Graph         *Graph                 `json:"graph,omitempty"`
	Status        ExecutionStatus        `json:"status"`
	CurrentNodeID string                 `json:"current_node_id,omitempty"`
	NodeResults   map[string]*NodeResult `json:"node_results"`
	Variables     Variables              `json:"variables"`
	Input         any                    `json:"input,omitempty"`
	Output        any                    `json:"output,omitempty"`
	Error         string                 `json:"error,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}

// NodeResult records one node's execution.
type NodeResult struct {
	NodeID      string     `json:"node_id"`
	Kind        NodeKind   `json:"kind"`
	Status      NodeStatus `json:"status"`
	Output      any        `json:"output,omitempty"`
	ToolTrace   []ToolCall `json:"tool_trace,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ToolCall is one entry of a model tool-use trace.
type ToolCall struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result any            `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Clone returns a deep enough copy that mutating maps on the copy never
// touches the original.
func (e *Execution) Clone() *Execution {
	cp := *e
	cp.NodeResults = make(map[string]*NodeResult, len(e.NodeResults))
	for k, r := range e.NodeResults {
		rc := *r
		cp.NodeResults[k] = &rc
	}
	cp.Variables = e.Variables.Clone()
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ExecutionPatch is an atomic partial update. Nil fields are left untouched.
// When ExpectStatus is non-empty the update applies only if the stored status
// is one of them.
type ExecutionPatch struct {
	ExpectStatus  []ExecutionStatus
	Status        *ExecutionStatus
	CurrentNodeID *string
	NodeResult    *NodeResult
	Variables     Variables
	Output        any
	Error         *string
	CompletedAt   *time.Time
}

// Allows reports whether the precondition holds for status.
func (p ExecutionPatch) Allows(status ExecutionStatus) bool {
	return len(p.ExpectStatus) == 0 || slices.Contains(p.ExpectStatus, status)
}

// Apply mutates e in place. Callers check Allows first.
func (p ExecutionPatch) Apply(e *Execution, now time.Time) {
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.CurrentNodeID != nil {
		e.CurrentNodeID = *p.CurrentNodeID
	}
	if p.NodeResult != nil {
		if e.NodeResults == nil {
			e.NodeResults = make(map[string]*NodeResult)
		}
		r := *p.NodeResult
		e.NodeResults[r.NodeID] = &r
	}
	if len(p.Variables) > 0 {
		if e.Variables == nil {
			e.Variables = make(Variables, len(p.Variables))
		}
		for k, v := range p.Variables {
			e.Variables[k] = v
		}
	}
	if p.Output != nil {
		e.Output = p.Output
	}
	if p.Error != nil {
		e.Error = *p.Error
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		e.CompletedAt = &t
	}
	e.UpdatedAt = now
}

// Ptr returns a pointer to v. Used to build patches.
func Ptr[T any](v T) *T { return &v }
