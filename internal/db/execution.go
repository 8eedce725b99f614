package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

const executionColumns = `id, workflow_id, status, current_node_id, graph, node_results, variables, input, output, error, started_at, updated_at, completed_at`

// CreateExecution stores a new execution record.
func (d *DB) CreateExecution(ctx context.Context, e *nodeflow.Execution) error {
	cols, err := encodeExecution(e)
	if err != nil {
		return err
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.WorkflowID, string(e.Status), e.CurrentNodeID,
		cols.graph, cols.nodeResults, cols.variables, cols.input, cols.output,
		e.Error, e.StartedAt, e.UpdatedAt, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (d *DB) GetExecution(ctx context.Context, id string) (*nodeflow.Execution, error) {
	row := d.Pool.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nodeflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution applies patch under a row lock. The precondition is
// checked against the locked row, so two concurrent guarded transitions on
// the same execution cannot both succeed.
func (d *DB) UpdateExecution(ctx context.Context, id string, patch nodeflow.ExecutionPatch, now time.Time) error {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1 FOR UPDATE`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nodeflow.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock execution: %w", err)
	}
	if !patch.Allows(e.Status) {
		return &nodeflow.StateConflictError{ID: id, Actual: string(e.Status)}
	}
	patch.Apply(e, now)

	cols, err := encodeExecution(e)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE executions SET status = $1, current_node_id = $2, node_results = $3, variables = $4,
		 output = $5, error = $6, updated_at = $7, completed_at = $8
		 WHERE id = $9`,
		string(e.Status), e.CurrentNodeID, cols.nodeResults, cols.variables,
		cols.output, e.Error, e.UpdatedAt, e.CompletedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListExecutions returns the newest executions first. An empty workflowID
// lists every workflow.
func (d *DB) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*nodeflow.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE ($1 = '' OR workflow_id = $1)
		 ORDER BY started_at DESC LIMIT $2`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*nodeflow.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*nodeflow.Execution, error) {
	e := &nodeflow.Execution{}
	var status string
	var graphJSON, resultsJSON, varsJSON, inputJSON, outputJSON []byte
	var completedAt sql.NullTime
	if err := s.Scan(&e.ID, &e.WorkflowID, &status, &e.CurrentNodeID,
		&graphJSON, &resultsJSON, &varsJSON, &inputJSON, &outputJSON,
		&e.Error, &e.StartedAt, &e.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	e.Status = nodeflow.ExecutionStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	for _, f := range []struct {
		raw  []byte
		dest any
	}{
		{graphJSON, &e.Graph},
		{resultsJSON, &e.NodeResults},
		{varsJSON, &e.Variables},
		{inputJSON, &e.Input},
		{outputJSON, &e.Output},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dest); err != nil {
			return nil, fmt.Errorf("decode execution %s: %w", e.ID, err)
		}
	}
	if e.NodeResults == nil {
		e.NodeResults = make(map[string]*nodeflow.NodeResult)
	}
	if e.Variables == nil {
		e.Variables = make(nodeflow.Variables)
	}
	return e, nil
}

type executionJSON struct {
	graph, nodeResults, variables, input, output any
}

func encodeExecution(e *nodeflow.Execution) (executionJSON, error) {
	var out executionJSON
	enc := func(v any, nullable bool) (any, error) {
		if nullable && v == nil {
			return nil, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode execution %s: %w", e.ID, err)
		}
		return string(b), nil
	}
	var err error
	if e.Graph != nil {
		if out.graph, err = enc(e.Graph, false); err != nil {
			return out, err
		}
	}
	results := e.NodeResults
	if results == nil {
		results = map[string]*nodeflow.NodeResult{}
	}
	if out.nodeResults, err = enc(results, false); err != nil {
		return out, err
	}
	vars := e.Variables
	if vars == nil {
		vars = nodeflow.Variables{}
	}
	if out.variables, err = enc(vars, false); err != nil {
		return out, err
	}
	if out.input, err = enc(e.Input, true); err != nil {
		return out, err
	}
	if out.output, err = enc(e.Output, true); err != nil {
		return out, err
	}
	return out, nil
}
