// Package ports declares the boundaries between the engine and the
// collaborators it does not own: storage, model inference, web fetching,
// tool calls and progress delivery.
package ports

import (
	"context"
	"time"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

// ExecutionStore persists execution records. Update must apply the whole
// patch atomically and return a *nodeflow.StateConflictError when the patch
// precondition does not hold. Get returns nodeflow.ErrNotFound for unknown ids.
type ExecutionStore interface {
	Create(ctx context.Context, exec *nodeflow.Execution) (string, error)
	Get(ctx context.Context, id string) (*nodeflow.Execution, error)
	Update(ctx context.Context, id string, patch nodeflow.ExecutionPatch) error
	List(ctx context.Context, workflowID string, limit int) ([]*nodeflow.Execution, error)
}

// ApprovalStore persists approval requests. Resolve only flips a pending
// request; otherwise it returns a conflict wrapping nodeflow.ErrAlreadyResolved.
type ApprovalStore interface {
	Create(ctx context.Context, req *nodeflow.ApprovalRequest) error
	Get(ctx context.Context, id string) (*nodeflow.ApprovalRequest, error)
	FindByNode(ctx context.Context, executionID, nodeID string) (*nodeflow.ApprovalRequest, error)
	Resolve(ctx context.Context, id string, status nodeflow.ApprovalStatus, respondedBy string, at time.Time) (*nodeflow.ApprovalRequest, error)
	// List returns requests newest first. Empty status or workflowID match all.
	List(ctx context.Context, status nodeflow.ApprovalStatus, workflowID string, limit int) ([]*nodeflow.ApprovalRequest, error)
}

// ModelCaller is the model-call capability.
type ModelCaller interface {
	Invoke(ctx context.Context, req nodeflow.ModelRequest) (*nodeflow.ModelResponse, error)
}

// WebFetcher is the web-fetch capability. Failures are *nodeflow.FetchError.
type WebFetcher interface {
	Fetch(ctx context.Context, url string, opts nodeflow.FetchOptions) (*nodeflow.FetchResult, error)
}

// ToolCaller is the tool-call capability used inside model tool loops.
type ToolCaller interface {
	Has(name string) bool
	Call(ctx context.Context, name string, args map[string]any) (any, error)
}

// ProgressSink receives progress events. Emit must never block the caller.
type ProgressSink interface {
	Emit(ev nodeflow.Event)
}
