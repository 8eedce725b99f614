package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

// ErrUniqueViolation reports an insert that collided with an existing row.
var ErrUniqueViolation = errors.New("unique violation")

const approvalColumns = `id, execution_id, workflow_id, node_id, message, status, responded_by, responded_at, created_at`

// CreateApproval stores a new approval request. A second request for the
// same (execution_id, node_id) fails with ErrUniqueViolation.
func (d *DB) CreateApproval(ctx context.Context, a *nodeflow.ApprovalRequest) error {
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO approvals (`+approvalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.ExecutionID, a.WorkflowID, a.NodeID, a.Message,
		string(a.Status), a.RespondedBy, a.RespondedAt, a.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrUniqueViolation
	}
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (d *DB) GetApproval(ctx context.Context, id string) (*nodeflow.ApprovalRequest, error) {
	return d.queryApproval(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id)
}

func (d *DB) FindApproval(ctx context.Context, executionID, nodeID string) (*nodeflow.ApprovalRequest, error) {
	return d.queryApproval(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE execution_id = $1 AND node_id = $2`,
		executionID, nodeID)
}

// ResolveApproval flips a pending request to status. The WHERE clause is the
// guard: a request that is no longer pending is left untouched and reported
// as a conflict.
func (d *DB) ResolveApproval(ctx context.Context, id string, status nodeflow.ApprovalStatus, respondedBy string, at time.Time) (*nodeflow.ApprovalRequest, error) {
	row := d.Pool.QueryRowContext(ctx,
		`UPDATE approvals SET status = $1, responded_by = $2, responded_at = $3
		 WHERE id = $4 AND status = 'pending'
		 RETURNING `+approvalColumns,
		string(status), respondedBy, at, id)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		cur, getErr := d.GetApproval(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &nodeflow.StateConflictError{ID: id, Actual: string(cur.Status), Err: nodeflow.ErrAlreadyResolved}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}
	return a, nil
}

// ListApprovals returns the newest requests first. Empty status or
// workflowID match every row.
func (d *DB) ListApprovals(ctx context.Context, status nodeflow.ApprovalStatus, workflowID string, limit int) ([]*nodeflow.ApprovalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals
		 WHERE ($1 = '' OR status = $1) AND ($2 = '' OR workflow_id = $2)
		 ORDER BY created_at DESC LIMIT $3`, string(status), workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []*nodeflow.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (d *DB) queryApproval(ctx context.Context, query string, args ...any) (*nodeflow.ApprovalRequest, error) {
	a, err := scanApproval(d.Pool.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nodeflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return a, nil
}

func scanApproval(s scanner) (*nodeflow.ApprovalRequest, error) {
	a := &nodeflow.ApprovalRequest{}
	var status string
	var respondedAt sql.NullTime
	if err := s.Scan(&a.ID, &a.ExecutionID, &a.WorkflowID, &a.NodeID, &a.Message,
		&status, &a.RespondedBy, &respondedAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Status = nodeflow.ApprovalStatus(status)
	if respondedAt.Valid {
		t := respondedAt.Time
		a.RespondedAt = &t
	}
	return a, nil
}
