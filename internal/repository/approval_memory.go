package repository

import (
	"context"
	"sort"
	"time"

	"github.com/soochol/nodeflow/internal/nodeflow"
	memstore "github.com/soochol/nodeflow/internal/repository/memory"
)

// MemoryApprovalStore keeps approval requests in process.
type MemoryApprovalStore struct {
	store *memstore.Store[*nodeflow.ApprovalRequest]
}

func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{
		store: memstore.New(func(a *nodeflow.ApprovalRequest) string { return a.ID }, 0),
	}
}

// Create rejects a second request for the same suspension point.
func (s *MemoryApprovalStore) Create(ctx context.Context, req *nodeflow.ApprovalRequest) error {
	if _, err := s.FindByNode(ctx, req.ExecutionID, req.NodeID); err == nil {
		return ErrDuplicate
	}
	cp := *req
	return wrapMemErr(s.store.Insert(ctx, &cp))
}

func (s *MemoryApprovalStore) Get(ctx context.Context, id string) (*nodeflow.ApprovalRequest, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, wrapMemErr(err)
	}
	cp := *req
	return &cp, nil
}

func (s *MemoryApprovalStore) FindByNode(ctx context.Context, executionID, nodeID string) (*nodeflow.ApprovalRequest, error) {
	found, _ := s.store.Filter(ctx, func(a *nodeflow.ApprovalRequest) bool {
		return a.ExecutionID == executionID && a.NodeID == nodeID
	})
	if len(found) == 0 {
		return nil, nodeflow.ErrNotFound
	}
	cp := *found[0]
	return &cp, nil
}

func (s *MemoryApprovalStore) Resolve(ctx context.Context, id string, status nodeflow.ApprovalStatus, respondedBy string, at time.Time) (*nodeflow.ApprovalRequest, error) {
	updated, err := s.store.Update(ctx, id, func(cur *nodeflow.ApprovalRequest) (*nodeflow.ApprovalRequest, error) {
		if cur.Status != nodeflow.ApprovalPending {
			return nil, alreadyResolved(id, cur.Status)
		}
		next := *cur
		next.Status = status
		next.RespondedBy = respondedBy
		next.RespondedAt = &at
		return &next, nil
	})
	if err != nil {
		return nil, wrapMemErr(err)
	}
	cp := *updated
	return &cp, nil
}

func (s *MemoryApprovalStore) List(ctx context.Context, status nodeflow.ApprovalStatus, workflowID string, limit int) ([]*nodeflow.ApprovalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	found, _ := s.store.Filter(ctx, func(a *nodeflow.ApprovalRequest) bool {
		return (status == "" || a.Status == status) && (workflowID == "" || a.WorkflowID == workflowID)
	})
	sort.SliceStable(found, func(i, j int) bool { return found[i].CreatedAt.After(found[j].CreatedAt) })
	if len(found) > limit {
		found = found[:limit]
	}
	out := make([]*nodeflow.ApprovalRequest, len(found))
	for i, a := range found {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}
