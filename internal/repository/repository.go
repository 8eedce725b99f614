// Package repository implements the execution and approval stores behind
// the ports.ExecutionStore and ports.ApprovalStore contracts: in memory,
// on PostgreSQL, and on Redis.
package repository

import (
	"errors"

	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

// ErrDuplicate is returned when a record with the same identity exists.
var ErrDuplicate = errors.New("duplicate record")

// Stores bundles the two stores the engine needs.
type Stores struct {
	Executions ports.ExecutionStore
	Approvals  ports.ApprovalStore
	// Close releases the backing connection, if any.
	Close func() error
}

// NewMemory returns process-local stores.
func NewMemory() Stores {
	return Stores{
		Executions: NewMemoryExecutionStore(),
		Approvals:  NewMemoryApprovalStore(),
		Close:      func() error { return nil },
	}
}

func alreadyResolved(id string, status nodeflow.ApprovalStatus) error {
	return &nodeflow.StateConflictError{ID: id, Actual: string(status), Err: nodeflow.ErrAlreadyResolved}
}
