package repository

import (
	"context"
	"errors"
	"time"

	"github.com/soochol/nodeflow/internal/db"
	"github.com/soochol/nodeflow/internal/nodeflow"
)

// PostgresExecutionStore persists executions in PostgreSQL. The database is
// authoritative: guarded updates rely on its row locks.
type PostgresExecutionStore struct {
	db  *db.DB
	now func() time.Time
}

func NewPostgresExecutionStore(database *db.DB) *PostgresExecutionStore {
	return &PostgresExecutionStore{db: database, now: time.Now}
}

func (s *PostgresExecutionStore) Create(ctx context.Context, exec *nodeflow.Execution) (string, error) {
	if exec.ID == "" {
		exec.ID = nodeflow.NewID()
	}
	if err := s.db.CreateExecution(ctx, exec); err != nil {
		return "", err
	}
	return exec.ID, nil
}

func (s *PostgresExecutionStore) Get(ctx context.Context, id string) (*nodeflow.Execution, error) {
	return s.db.GetExecution(ctx, id)
}

func (s *PostgresExecutionStore) Update(ctx context.Context, id string, patch nodeflow.ExecutionPatch) error {
	return s.db.UpdateExecution(ctx, id, patch, s.now().UTC())
}

func (s *PostgresExecutionStore) List(ctx context.Context, workflowID string, limit int) ([]*nodeflow.Execution, error) {
	return s.db.ListExecutions(ctx, workflowID, limit)
}

// PostgresApprovalStore persists approval requests in PostgreSQL.
type PostgresApprovalStore struct {
	db *db.DB
}

func NewPostgresApprovalStore(database *db.DB) *PostgresApprovalStore {
	return &PostgresApprovalStore{db: database}
}

func (s *PostgresApprovalStore) Create(ctx context.Context, req *nodeflow.ApprovalRequest) error {
	err := s.db.CreateApproval(ctx, req)
	if errors.Is(err, db.ErrUniqueViolation) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresApprovalStore) Get(ctx context.Context, id string) (*nodeflow.ApprovalRequest, error) {
	return s.db.GetApproval(ctx, id)
}

func (s *PostgresApprovalStore) FindByNode(ctx context.Context, executionID, nodeID string) (*nodeflow.ApprovalRequest, error) {
	return s.db.FindApproval(ctx, executionID, nodeID)
}

func (s *PostgresApprovalStore) Resolve(ctx context.Context, id string, status nodeflow.ApprovalStatus, respondedBy string, at time.Time) (*nodeflow.ApprovalRequest, error) {
	return s.db.ResolveApproval(ctx, id, status, respondedBy, at)
}

func (s *PostgresApprovalStore) List(ctx context.Context, status nodeflow.ApprovalStatus, workflowID string, limit int) ([]*nodeflow.ApprovalRequest, error) {
	return s.db.ListApprovals(ctx, status, workflowID, limit)
}

// NewPostgres returns stores backed by database.
func NewPostgres(database *db.DB) Stores {
	return Stores{
		Executions: NewPostgresExecutionStore(database),
		Approvals:  NewPostgresApprovalStore(database),
		Close:      database.Close,
	}
}
