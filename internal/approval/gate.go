// Package approval holds the human-decision side of a paused execution.
// Resolving a request only records the decision; resuming the execution is
// the engine's job.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

// Notifier is told about each newly created request. It must not block.
type Notifier interface {
	ApprovalRequested(ctx context.Context, req *nodeflow.ApprovalRequest)
}

type Gate struct {
	store    ports.ApprovalStore
	logger   *slog.Logger
	now      func() time.Time
	notifier Notifier

	mu sync.Mutex
}

func NewGate(store ports.ApprovalStore, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, logger: logger, now: time.Now}
}

// SetNotifier installs n. Call it before the gate is shared.
func (g *Gate) SetNotifier(n Notifier) {
	g.notifier = n
}

// Request returns the approval for (executionID, nodeID), creating a pending
// one if none exists yet.
func (g *Gate) Request(ctx context.Context, executionID, workflowID, nodeID, message string) (*nodeflow.ApprovalRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, err := g.store.FindByNode(ctx, executionID, nodeID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, nodeflow.ErrNotFound) {
		return nil, fmt.Errorf("find approval: %w", err)
	}

	req := &nodeflow.ApprovalRequest{
		ID:          nodeflow.NewID(),
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		NodeID:      nodeID,
		Message:     message,
		Status:      nodeflow.ApprovalPending,
		CreatedAt:   g.now().UTC(),
	}
	if err := g.store.Create(ctx, req); err != nil {
		// Another process may have created it between the lookup and the insert.
		if existing, findErr := g.store.FindByNode(ctx, executionID, nodeID); findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create approval: %w", err)
	}
	g.logger.Info("approval requested", "approval_id", req.ID, "execution_id", executionID, "node_id", nodeID)
	if g.notifier != nil {
		g.notifier.ApprovalRequested(ctx, req)
	}
	return req, nil
}

// Resolve records a decision on a pending request.
func (g *Gate) Resolve(ctx context.Context, approvalID string, decision nodeflow.ApprovalStatus, respondedBy string) (*nodeflow.ApprovalRequest, error) {
	if decision != nodeflow.ApprovalApproved && decision != nodeflow.ApprovalRejected {
		return nil, fmt.Errorf("invalid decision %q", decision)
	}
	req, err := g.store.Resolve(ctx, approvalID, decision, respondedBy, g.now().UTC())
	if err != nil {
		return nil, err
	}
	g.logger.Info("approval resolved", "approval_id", approvalID, "decision", decision, "responded_by", respondedBy)
	return req, nil
}

func (g *Gate) Get(ctx context.Context, approvalID string) (*nodeflow.ApprovalRequest, error) {
	return g.store.Get(ctx, approvalID)
}

// ForNode returns the approval created for a suspension point.
func (g *Gate) ForNode(ctx context.Context, executionID, nodeID string) (*nodeflow.ApprovalRequest, error) {
	return g.store.FindByNode(ctx, executionID, nodeID)
}

// List returns requests newest first, filtered by status and workflow when
// those are non-empty.
func (g *Gate) List(ctx context.Context, status nodeflow.ApprovalStatus, workflowID string, limit int) ([]*nodeflow.ApprovalRequest, error) {
	if status != "" && status != nodeflow.ApprovalPending && status != nodeflow.ApprovalApproved && status != nodeflow.ApprovalRejected {
		return nil, fmt.Errorf("invalid approval status %q", status)
	}
	return g.store.List(ctx, status, workflowID, limit)
}
