package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/soochol/nodeflow/internal/nodeflow"
	memstore "github.com/soochol/nodeflow/internal/repository/memory"
)

const maxExecutionRecords = 1000

// MemoryExecutionStore keeps execution records in process with FIFO
// eviction. Records are copied on the way in and out so callers never share
// maps with the store.
type MemoryExecutionStore struct {
	store *memstore.Store[*nodeflow.Execution]
	now   func() time.Time
}

func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		store: memstore.New(func(e *nodeflow.Execution) string { return e.ID }, maxExecutionRecords),
		now:   time.Now,
	}
}

func (s *MemoryExecutionStore) Create(ctx context.Context, exec *nodeflow.Execution) (string, error) {
	if exec.ID == "" {
		exec.ID = nodeflow.NewID()
	}
	if err := s.store.Insert(ctx, exec.Clone()); err != nil {
		return "", wrapMemErr(err)
	}
	return exec.ID, nil
}

func (s *MemoryExecutionStore) Get(ctx context.Context, id string) (*nodeflow.Execution, error) {
	exec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, wrapMemErr(err)
	}
	return exec.Clone(), nil
}

func (s *MemoryExecutionStore) Update(ctx context.Context, id string, patch nodeflow.ExecutionPatch) error {
	_, err := s.store.Update(ctx, id, func(cur *nodeflow.Execution) (*nodeflow.Execution, error) {
		if !patch.Allows(cur.Status) {
			return nil, &nodeflow.StateConflictError{ID: id, Actual: string(cur.Status)}
		}
		next := cur.Clone()
		patch.Apply(next, s.now().UTC())
		return next, nil
	})
	return wrapMemErr(err)
}

func (s *MemoryExecutionStore) List(ctx context.Context, workflowID string, limit int) ([]*nodeflow.Execution, error) {
	found, err := s.store.Filter(ctx, func(e *nodeflow.Execution) bool {
		return workflowID == "" || e.WorkflowID == workflowID
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].StartedAt.After(found[j].StartedAt)
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	out := make([]*nodeflow.Execution, len(found))
	for i, e := range found {
		out[i] = e.Clone()
	}
	return out, nil
}

func wrapMemErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, memstore.ErrNotFound):
		return nodeflow.ErrNotFound
	case errors.Is(err, memstore.ErrExists):
		return ErrDuplicate
	}
	return err
}
