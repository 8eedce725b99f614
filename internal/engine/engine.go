// Package engine drives workflow executions: it walks the graph one node at
// a time, persists a checkpoint after every node, suspends at approval
// nodes and resumes once the approval is decided.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soochol/nodeflow/internal/approval"
	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
	"github.com/soochol/nodeflow/internal/nodes"
)

// Config holds per-node time budgets. A node's own "timeout" config wins
// over KindTimeouts, which wins over DefaultTimeout. Zero means unbounded.
type Config struct {
	DefaultTimeout time.Duration
	KindTimeouts   map[nodeflow.NodeKind]time.Duration
}

type Engine struct {
	executions ports.ExecutionStore
	gate       *approval.Gate
	registry   *nodes.Registry
	caps       nodes.Capabilities
	drivers    *DriverRegistry
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }
func WithConfig(c Config) Option       { return func(e *Engine) { e.cfg = c } }
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(executions ports.ExecutionStore, gate *approval.Gate, registry *nodes.Registry, caps nodes.Capabilities, opts ...Option) *Engine {
	e := &Engine{
		executions: executions,
		gate:       gate,
		registry:   registry,
		caps:       caps,
		drivers:    NewDriverRegistry(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Validate checks a graph without running it.
func (e *Engine) Validate(g *nodeflow.Graph) error {
	_, err := validate(g, e.registry)
	return err
}

// Start validates g and runs it against input until it completes, fails or
// pauses at an approval node. Node failures are reported through the
// returned record, not the error; the error is non-nil only when the
// invocation itself could not proceed. An invalid graph yields a failed
// record and a *nodeflow.ValidationError.
//
// The run is detached from ctx cancellation so a departing caller does not
// abandon it half way; use Cancel to stop a run.
func (e *Engine) Start(ctx context.Context, g *nodeflow.Graph, input any, sink ports.ProgressSink) (*nodeflow.Execution, error) {
	now := e.now().UTC()
	exec := &nodeflow.Execution{
		ID:          nodeflow.NewID(),
		Status:      nodeflow.StatusRunning,
		NodeResults: make(map[string]*nodeflow.NodeResult),
		Variables:   nodeflow.Variables{inputBinding: nodeflow.NewValue(input)},
		Input:       input,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if g != nil {
		exec.WorkflowID = g.ID
		snapshot := *g
		exec.Graph = &snapshot
	}

	d, verr := validate(g, e.registry)
	if verr != nil {
		exec.Status = nodeflow.StatusFailed
		exec.Error = verr.Error()
		exec.CompletedAt = &now
		if _, err := e.executions.Create(ctx, exec); err != nil {
			return nil, fmt.Errorf("record failed execution: %w", err)
		}
		e.logger.Warn("graph validation failed", "execution_id", exec.ID, "err", verr)
		newProgress(sink, exec.ID, e.now).emit(nodeflow.EventError, "", map[string]any{"error": exec.Error})
		return exec, verr
	}

	if _, err := e.executions.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	p := newProgress(sink, exec.ID, e.now)
	p.emit(nodeflow.EventStart, "", map[string]any{
		"execution_id": exec.ID,
		"workflow_id":  exec.WorkflowID,
		"workflow":     g.Name,
		"input":        input,
	})
	e.logger.Info("execution started", "execution_id", exec.ID, "workflow_id", exec.WorkflowID)
	return e.drive(ctx, &run{exec: exec, dag: d, progress: p})
}

// Resume continues a paused execution once its approval is decided.
// It fails with nodeflow.ErrNotPaused (a *nodeflow.StateConflictError) when
// the execution is not paused and with nodeflow.ErrStillPending while the
// approval is undecided; neither mutates the record.
func (e *Engine) Resume(ctx context.Context, executionID string, sink ports.ProgressSink) (*nodeflow.Execution, error) {
	exec, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != nodeflow.StatusPaused {
		return exec, notPaused(exec)
	}
	nodeID := exec.CurrentNodeID

	req, err := e.gate.ForNode(ctx, executionID, nodeID)
	if errors.Is(err, nodeflow.ErrNotFound) {
		// Paused without an approval on record: the pause was persisted but
		// the request was not. Recreate it so the run can be decided.
		msg := ""
		if r := exec.NodeResults[nodeID]; r != nil {
			msg, _ = r.Output.(string)
		}
		if _, err := e.gate.Request(ctx, executionID, exec.WorkflowID, nodeID, msg); err != nil {
			return exec, err
		}
		return exec, nodeflow.ErrStillPending
	}
	if err != nil {
		return exec, fmt.Errorf("load approval: %w", err)
	}

	p := newProgress(sink, executionID, e.now)
	now := e.now().UTC()
	result := &nodeflow.NodeResult{
		NodeID:      nodeID,
		Kind:        nodeflow.NodeKindApproval,
		Output:      map[string]any{"approval_id": req.ID, "decision": string(req.Status), "responded_by": req.RespondedBy},
		Attempts:    1,
		CompletedAt: &now,
	}
	if prev := exec.NodeResults[nodeID]; prev != nil {
		result.StartedAt = prev.StartedAt
	}

	switch req.Status {
	case nodeflow.ApprovalPending:
		return exec, nodeflow.ErrStillPending

	case nodeflow.ApprovalRejected:
		result.Status = nodeflow.NodeStatusRejected
		msg := fmt.Errorf("%w by %s", nodeflow.ErrApprovalRejected, respondent(req)).Error()
		result.Error = msg
		err := e.executions.Update(ctx, executionID, nodeflow.ExecutionPatch{
			ExpectStatus: []nodeflow.ExecutionStatus{nodeflow.StatusPaused},
			Status:       nodeflow.Ptr(nodeflow.StatusFailed),
			NodeResult:   result,
			Error:        &msg,
			CompletedAt:  &now,
		})
		if err != nil {
			return e.conflictOr(ctx, executionID, err)
		}
		e.logger.Info("execution rejected", "execution_id", executionID, "node_id", nodeID)
		p.emit(nodeflow.EventError, nodeID, map[string]any{"error": msg})
		return e.executions.Get(ctx, executionID)

	case nodeflow.ApprovalApproved:
		result.Status = nodeflow.NodeStatusApproved
		err := e.executions.Update(ctx, executionID, nodeflow.ExecutionPatch{
			ExpectStatus: []nodeflow.ExecutionStatus{nodeflow.StatusPaused},
			Status:       nodeflow.Ptr(nodeflow.StatusRunning),
			NodeResult:   result,
		})
		if err != nil {
			return e.conflictOr(ctx, executionID, err)
		}
	default:
		return exec, fmt.Errorf("approval %s has unknown status %q", req.ID, req.Status)
	}

	exec.Status = nodeflow.StatusRunning
	exec.NodeResults[nodeID] = result
	d, err := validate(exec.Graph, e.registry)
	if err != nil {
		return e.fail(ctx, &run{exec: exec, progress: p}, "", fmt.Errorf("stored graph: %w", err))
	}
	p.emit(nodeflow.EventStart, "", map[string]any{
		"execution_id": executionID,
		"workflow_id":  exec.WorkflowID,
		"resumed_from": nodeID,
	})
	e.logger.Info("execution resumed", "execution_id", executionID, "node_id", nodeID)
	return e.drive(ctx, &run{exec: exec, dag: d, progress: p})
}

// Cancel fails a running or paused execution with a "cancelled" error and
// interrupts its driver. The driver notices the transition and stops
// without writing again. The terminal error event goes to sink, since the
// interrupted driver emits nothing.
func (e *Engine) Cancel(ctx context.Context, executionID string, sink ports.ProgressSink) (*nodeflow.Execution, error) {
	now := e.now().UTC()
	msg := nodeflow.ErrCancelled.Error()
	err := e.executions.Update(ctx, executionID, nodeflow.ExecutionPatch{
		ExpectStatus: []nodeflow.ExecutionStatus{nodeflow.StatusRunning, nodeflow.StatusPaused},
		Status:       nodeflow.Ptr(nodeflow.StatusFailed),
		Error:        &msg,
		CompletedAt:  &now,
	})
	if err != nil {
		return nil, err
	}
	interrupted := e.drivers.Cancel(executionID)
	e.logger.Info("execution cancelled", "execution_id", executionID, "interrupted", interrupted)
	newProgress(sink, executionID, e.now).emit(nodeflow.EventError, "", map[string]any{"error": msg})
	return e.executions.Get(ctx, executionID)
}

func (e *Engine) Get(ctx context.Context, executionID string) (*nodeflow.Execution, error) {
	return e.executions.Get(ctx, executionID)
}

func (e *Engine) List(ctx context.Context, workflowID string, limit int) ([]*nodeflow.Execution, error) {
	return e.executions.List(ctx, workflowID, limit)
}

// Approvals exposes the gate so hosts can resolve decisions.
func (e *Engine) Approvals() *approval.Gate { return e.gate }

// conflictOr maps a failed guarded transition out of paused to ErrNotPaused.
func (e *Engine) conflictOr(ctx context.Context, executionID string, err error) (*nodeflow.Execution, error) {
	var conflict *nodeflow.StateConflictError
	if errors.As(err, &conflict) {
		cur, getErr := e.executions.Get(ctx, executionID)
		if getErr != nil {
			return nil, getErr
		}
		return cur, notPaused(cur)
	}
	return nil, err
}

func notPaused(exec *nodeflow.Execution) error {
	return &nodeflow.StateConflictError{ID: exec.ID, Actual: string(exec.Status), Err: nodeflow.ErrNotPaused}
}

func respondent(req *nodeflow.ApprovalRequest) string {
	if req.RespondedBy == "" {
		return "unknown"
	}
	return req.RespondedBy
}
