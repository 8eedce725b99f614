package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soochol/nodeflow/internal/dag"
	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodes"
)

// run is the in-memory view one driver keeps of an execution. The store is
// the source of truth; exec mirrors what has been persisted so far.
type run struct {
	exec     *nodeflow.Execution
	dag      *dag.DAG
	progress *progress
}

var running = []nodeflow.ExecutionStatus{nodeflow.StatusRunning}

// drive executes ready nodes one at a time until the run completes, fails,
// pauses, or loses a status guard to a concurrent writer.
func (e *Engine) drive(ctx context.Context, r *run) (*nodeflow.Execution, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	e.drivers.Register(r.exec.ID, cancel)
	defer e.drivers.Unregister(r.exec.ID)

	// A Cancel that landed before Register could not reach this driver, but
	// its write is already visible.
	cur, err := e.executions.Get(runCtx, r.exec.ID)
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	if cur.Status != nodeflow.StatusRunning {
		e.logger.Info("driver stopped before first step", "execution_id", r.exec.ID, "status", cur.Status)
		return cur, nil
	}

	for {
		if err := runCtx.Err(); err != nil {
			return e.stopped(ctx, r, err)
		}

		nodeID, satisfied, ok := e.next(r)
		if !ok {
			return e.complete(runCtx, r)
		}
		if !satisfied {
			if err := e.skip(runCtx, r, nodeID); err != nil {
				return e.stopped(ctx, r, err)
			}
			continue
		}

		done, err := e.step(runCtx, r, nodeID)
		if err != nil {
			return e.stopped(ctx, r, err)
		}
		if done {
			return r.exec, nil
		}
	}
}

// next picks the first node in topological order without a result and
// reports whether any of its incoming edges is satisfied. Topological order
// guarantees every source of that node already has a result.
func (e *Engine) next(r *run) (nodeID string, satisfied, ok bool) {
	for _, id := range r.dag.TopologicalOrder() {
		if _, seen := r.exec.NodeResults[id]; seen {
			continue
		}
		incoming := r.dag.Incoming(id)
		if len(incoming) == 0 {
			return id, true, true
		}
		for _, edge := range incoming {
			if e.traversable(r, edge) {
				return id, true, true
			}
		}
		return id, false, true
	}
	return "", false, false
}

// traversable reports whether control flows along edge. An edge out of a
// skipped node is never traversable; a condition that cannot be evaluated
// counts as false.
func (e *Engine) traversable(r *run, edge nodeflow.Edge) bool {
	src := r.exec.NodeResults[edge.Source]
	if src == nil {
		return false
	}
	if src.Status != nodeflow.NodeStatusCompleted && src.Status != nodeflow.NodeStatusApproved {
		return false
	}
	if edge.Condition == "" {
		return true
	}
	ok, err := nodes.EvaluateCondition(edge.Condition, r.exec.Variables)
	if err != nil {
		e.logger.Warn("edge condition failed", "execution_id", r.exec.ID, "edge", edge.ID, "err", err)
		return false
	}
	return ok
}

func (e *Engine) skip(ctx context.Context, r *run, nodeID string) error {
	now := e.now().UTC()
	n := r.dag.Node(nodeID)
	result := &nodeflow.NodeResult{
		NodeID:      nodeID,
		Kind:        n.Kind,
		Status:      nodeflow.NodeStatusSkipped,
		StartedAt:   now,
		CompletedAt: &now,
	}
	if err := e.patch(ctx, r, nodeflow.ExecutionPatch{
		ExpectStatus:  running,
		CurrentNodeID: &nodeID,
		NodeResult:    result,
	}); err != nil {
		return err
	}
	e.logger.Debug("node skipped", "execution_id", r.exec.ID, "node_id", nodeID)
	r.progress.emit(nodeflow.EventNodeUpdate, nodeID, map[string]any{"node_id": nodeID, "result": result})
	return nil
}

// step runs one node. done is true when the run reached paused or failed.
func (e *Engine) step(ctx context.Context, r *run, nodeID string) (done bool, err error) {
	n := r.dag.Node(nodeID)
	started := e.now().UTC()

	executor, err := e.registry.Lookup(n.Kind)
	if err != nil {
		return true, e.failNode(ctx, r, n, started, 0, err)
	}
	vars := r.exec.Variables.Clone()
	if err := vars.Check(n.Inputs); err != nil {
		return true, e.failNode(ctx, r, n, started, 0, fmt.Errorf("node %s: %w", nodeID, err))
	}

	e.logger.Info("node started", "execution_id", r.exec.ID, "node_id", nodeID, "kind", n.Kind)
	out, execErr := e.execute(ctx, executor, n, vars)
	if execErr != nil {
		// A cancelled driver must not record the interrupted node.
		if ctx.Err() != nil && !errors.Is(execErr, context.DeadlineExceeded) {
			return true, ctx.Err()
		}
		return true, e.failNode(ctx, r, n, started, out.Attempts, execErr)
	}

	if out.Suspend != nil {
		return true, e.suspend(ctx, r, n, started, out.Suspend)
	}

	now := e.now().UTC()
	result := &nodeflow.NodeResult{
		NodeID:      nodeID,
		Kind:        n.Kind,
		Status:      nodeflow.NodeStatusCompleted,
		Output:      out.Output,
		ToolTrace:   out.ToolTrace,
		Attempts:    max(out.Attempts, 1),
		StartedAt:   started,
		CompletedAt: &now,
	}
	if err := e.patch(ctx, r, nodeflow.ExecutionPatch{
		ExpectStatus:  running,
		CurrentNodeID: &nodeID,
		NodeResult:    result,
		Variables:     nodeflow.Variables{nodeID: nodeflow.NewValue(out.Output)},
	}); err != nil {
		return true, err
	}
	e.logger.Info("node completed", "execution_id", r.exec.ID, "node_id", nodeID, "duration", now.Sub(started))
	r.progress.emit(nodeflow.EventNodeUpdate, nodeID, map[string]any{"node_id": nodeID, "result": result})
	return false, nil
}

// execute runs the executor under the node's time budget. A budget overrun
// is reported as a *nodeflow.TimeoutError naming the capability.
func (e *Engine) execute(ctx context.Context, executor nodes.Executor, n *nodeflow.Node, vars nodeflow.Variables) (nodes.Outcome, error) {
	budget := e.budget(n)
	nodeCtx := ctx
	if budget > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	caps := e.caps
	if caps.Logger == nil {
		caps.Logger = e.logger
	}
	out, err := executor.Execute(nodeCtx, n, vars, caps)
	if err != nil && budget > 0 && errors.Is(nodeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		capability := executor.Capability()
		if capability == "" {
			capability = string(n.Kind)
		}
		return out, &nodeflow.TimeoutError{NodeID: n.ID, Capability: capability, Budget: budget}
	}
	return out, err
}

func (e *Engine) budget(n *nodeflow.Node) time.Duration {
	if d, err := n.Timeout(); err == nil && d > 0 {
		return d
	}
	if d, ok := e.cfg.KindTimeouts[n.Kind]; ok && d > 0 {
		return d
	}
	return e.cfg.DefaultTimeout
}

// suspend persists the pause before asking for approval, so a crash in
// between leaves a paused run that Resume can recover.
func (e *Engine) suspend(ctx context.Context, r *run, n *nodeflow.Node, started time.Time, s *nodes.Suspend) error {
	result := &nodeflow.NodeResult{
		NodeID:    n.ID,
		Kind:      n.Kind,
		Status:    nodeflow.NodeStatusWaiting,
		Output:    s.Message,
		Attempts:  1,
		StartedAt: started,
	}
	if err := e.patch(ctx, r, nodeflow.ExecutionPatch{
		ExpectStatus:  running,
		Status:        nodeflow.Ptr(nodeflow.StatusPaused),
		CurrentNodeID: &n.ID,
		NodeResult:    result,
	}); err != nil {
		return err
	}
	req, err := e.gate.Request(ctx, r.exec.ID, r.exec.WorkflowID, n.ID, s.Message)
	if err != nil {
		return fmt.Errorf("request approval: %w", err)
	}
	e.logger.Info("execution paused", "execution_id", r.exec.ID, "node_id", n.ID, "approval_id", req.ID)
	r.progress.emit(nodeflow.EventPaused, n.ID, map[string]any{
		"node_id":     n.ID,
		"approval_id": req.ID,
		"message":     s.Message,
	})
	return nil
}

// failNode records the failing node and moves the run to failed. It returns
// nil once the failure is persisted.
func (e *Engine) failNode(ctx context.Context, r *run, n *nodeflow.Node, started time.Time, attempts int, cause error) error {
	now := e.now().UTC()
	result := &nodeflow.NodeResult{
		NodeID:      n.ID,
		Kind:        n.Kind,
		Status:      nodeflow.NodeStatusFailed,
		Attempts:    max(attempts, 1),
		Error:       cause.Error(),
		StartedAt:   started,
		CompletedAt: &now,
	}
	msg := cause.Error()
	if err := e.patch(ctx, r, nodeflow.ExecutionPatch{
		ExpectStatus:  running,
		Status:        nodeflow.Ptr(nodeflow.StatusFailed),
		CurrentNodeID: &n.ID,
		NodeResult:    result,
		Error:         &msg,
		CompletedAt:   &now,
	}); err != nil {
		return err
	}
	e.logger.Warn("node failed", "execution_id", r.exec.ID, "node_id", n.ID, "err", cause)
	r.progress.emit(nodeflow.EventError, n.ID, map[string]any{"node_id": n.ID, "error": msg})
	return nil
}

// fail moves the run to failed without a node result.
func (e *Engine) fail(ctx context.Context, r *run, nodeID string, cause error) (*nodeflow.Execution, error) {
	now := e.now().UTC()
	msg := cause.Error()
	if err := e.patch(ctx, r, nodeflow.ExecutionPatch{
		ExpectStatus: running,
		Status:       nodeflow.Ptr(nodeflow.StatusFailed),
		Error:        &msg,
		CompletedAt:  &now,
	}); err != nil {
		return e.stopped(ctx, r, err)
	}
	e.logger.Warn("execution failed", "execution_id", r.exec.ID, "err", cause)
	r.progress.emit(nodeflow.EventError, nodeID, map[string]any{"error": msg})
	return r.exec, nil
}

func (e *Engine) complete(ctx context.Context, r *run) (*nodeflow.Execution, error) {
	now := e.now().UTC()
	output := e.output(r)
	if err := e.patch(ctx, r, nodeflow.ExecutionPatch{
		ExpectStatus: running,
		Status:       nodeflow.Ptr(nodeflow.StatusCompleted),
		Output:       output,
		CompletedAt:  &now,
	}); err != nil {
		return e.stopped(ctx, r, err)
	}
	e.logger.Info("execution completed", "execution_id", r.exec.ID, "duration", now.Sub(r.exec.StartedAt))
	r.progress.emit(nodeflow.EventComplete, "", map[string]any{"execution": r.exec.Clone()})
	return r.exec, nil
}

// output is the binding of the single terminal node that produced one, or
// the whole variable map when several did.
func (e *Engine) output(r *run) any {
	var bound []string
	for _, id := range r.dag.Leaves() {
		if _, ok := r.exec.Variables[id]; ok {
			bound = append(bound, id)
		}
	}
	if len(bound) == 1 {
		return r.exec.Variables[bound[0]].Data
	}
	return r.exec.Variables.Env()
}

// patch persists p and mirrors it on the in-memory record.
func (e *Engine) patch(ctx context.Context, r *run, p nodeflow.ExecutionPatch) error {
	if err := e.executions.Update(ctx, r.exec.ID, p); err != nil {
		return err
	}
	p.Apply(r.exec, e.now().UTC())
	return nil
}

// stopped ends a driver that could not write. Losing a status guard means
// another writer (Cancel) owns the record, so the stored state is returned
// as is. Other errors are store failures and surface to the caller.
func (e *Engine) stopped(ctx context.Context, r *run, err error) (*nodeflow.Execution, error) {
	var conflict *nodeflow.StateConflictError
	if errors.As(err, &conflict) || errors.Is(err, context.Canceled) {
		e.logger.Info("driver stopped", "execution_id", r.exec.ID, "reason", err)
		return e.executions.Get(context.WithoutCancel(ctx), r.exec.ID)
	}
	return nil, err
}
