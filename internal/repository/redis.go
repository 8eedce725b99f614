package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

const (
	defaultKeyPrefix = "nodeflow:"
	maxTxRetries     = 10
)

// RedisExecutionStore keeps one JSON document per execution plus a sorted
// set per workflow for listing. Guarded updates use WATCH/MULTI so a
// concurrent writer makes the transaction retry instead of losing an update.
type RedisExecutionStore struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

func NewRedisExecutionStore(client *redis.Client, keyPrefix string) *RedisExecutionStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisExecutionStore{client: client, keyPrefix: keyPrefix, now: time.Now}
}

func (s *RedisExecutionStore) execKey(id string) string { return s.keyPrefix + "execution:" + id }

func (s *RedisExecutionStore) indexKey(workflowID string) string {
	if workflowID == "" {
		return s.keyPrefix + "executions:all"
	}
	return s.keyPrefix + "executions:workflow:" + workflowID
}

func (s *RedisExecutionStore) Create(ctx context.Context, exec *nodeflow.Execution) (string, error) {
	if exec.ID == "" {
		exec.ID = nodeflow.NewID()
	}
	data, err := json.Marshal(exec)
	if err != nil {
		return "", fmt.Errorf("marshal execution: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.execKey(exec.ID), data, 0).Result()
	if err != nil {
		return "", fmt.Errorf("store execution: %w", err)
	}
	if !ok {
		return "", ErrDuplicate
	}
	score := float64(exec.StartedAt.UnixNano())
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.indexKey(""), redis.Z{Score: score, Member: exec.ID})
	if exec.WorkflowID != "" {
		pipe.ZAdd(ctx, s.indexKey(exec.WorkflowID), redis.Z{Score: score, Member: exec.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("index execution: %w", err)
	}
	return exec.ID, nil
}

func (s *RedisExecutionStore) Get(ctx context.Context, id string) (*nodeflow.Execution, error) {
	return getJSON[nodeflow.Execution](ctx, s.client, s.execKey(id))
}

func (s *RedisExecutionStore) Update(ctx context.Context, id string, patch nodeflow.ExecutionPatch) error {
	key := s.execKey(id)
	txf := func(tx *redis.Tx) error {
		exec, err := getJSON[nodeflow.Execution](ctx, tx, key)
		if err != nil {
			return err
		}
		if !patch.Allows(exec.Status) {
			return &nodeflow.StateConflictError{ID: id, Actual: string(exec.Status)}
		}
		patch.Apply(exec, s.now().UTC())
		data, err := json.Marshal(exec)
		if err != nil {
			return fmt.Errorf("marshal execution: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}
	return watchRetry(ctx, s.client, txf, key)
}

func (s *RedisExecutionStore) List(ctx context.Context, workflowID string, limit int) ([]*nodeflow.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(workflowID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	out := make([]*nodeflow.Execution, 0, len(ids))
	for _, id := range ids {
		exec, err := s.Get(ctx, id)
		if errors.Is(err, nodeflow.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

// RedisApprovalStore keeps approval requests as JSON documents. A per-node
// claim key makes creation unique per suspension point and sorted sets by
// created_at serve listing.
type RedisApprovalStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisApprovalStore(client *redis.Client, keyPrefix string) *RedisApprovalStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisApprovalStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisApprovalStore) approvalKey(id string) string { return s.keyPrefix + "approval:" + id }

func (s *RedisApprovalStore) nodeKey(executionID, nodeID string) string {
	return s.keyPrefix + "approval:node:" + executionID + ":" + nodeID
}

func (s *RedisApprovalStore) indexKey(workflowID string) string {
	if workflowID == "" {
		return s.keyPrefix + "approvals:all"
	}
	return s.keyPrefix + "approvals:workflow:" + workflowID
}

// Create writes the node claim, the document and the index entries in one
// MULTI. A claim whose document is missing is treated as free and taken over.
func (s *RedisApprovalStore) Create(ctx context.Context, req *nodeflow.ApprovalRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal approval: %w", err)
	}
	claim := s.nodeKey(req.ExecutionID, req.NodeID)
	txf := func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, claim).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("claim approval: %w", err)
		default:
			n, err := tx.Exists(ctx, s.approvalKey(owner)).Result()
			if err != nil {
				return fmt.Errorf("claim approval: %w", err)
			}
			if n > 0 {
				return ErrDuplicate
			}
		}
		score := float64(req.CreatedAt.UnixNano())
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, claim, req.ID, 0)
			pipe.Set(ctx, s.approvalKey(req.ID), data, 0)
			pipe.ZAdd(ctx, s.indexKey(""), redis.Z{Score: score, Member: req.ID})
			if req.WorkflowID != "" {
				pipe.ZAdd(ctx, s.indexKey(req.WorkflowID), redis.Z{Score: score, Member: req.ID})
			}
			return nil
		})
		return err
	}
	return watchRetry(ctx, s.client, txf, claim)
}

func (s *RedisApprovalStore) Get(ctx context.Context, id string) (*nodeflow.ApprovalRequest, error) {
	return getJSON[nodeflow.ApprovalRequest](ctx, s.client, s.approvalKey(id))
}

func (s *RedisApprovalStore) FindByNode(ctx context.Context, executionID, nodeID string) (*nodeflow.ApprovalRequest, error) {
	id, err := s.client.Get(ctx, s.nodeKey(executionID, nodeID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nodeflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find approval: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *RedisApprovalStore) Resolve(ctx context.Context, id string, status nodeflow.ApprovalStatus, respondedBy string, at time.Time) (*nodeflow.ApprovalRequest, error) {
	key := s.approvalKey(id)
	var resolved *nodeflow.ApprovalRequest
	txf := func(tx *redis.Tx) error {
		req, err := getJSON[nodeflow.ApprovalRequest](ctx, tx, key)
		if err != nil {
			return err
		}
		if req.Status != nodeflow.ApprovalPending {
			return alreadyResolved(id, req.Status)
		}
		req.Status = status
		req.RespondedBy = respondedBy
		req.RespondedAt = &at
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshal approval: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		resolved = req
		return err
	}
	if err := watchRetry(ctx, s.client, txf, key); err != nil {
		return nil, err
	}
	return resolved, nil
}

// List walks the index newest first and filters by status, so resolved
// requests cost a read each.
func (s *RedisApprovalStore) List(ctx context.Context, status nodeflow.ApprovalStatus, workflowID string, limit int) ([]*nodeflow.ApprovalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	const page = 100
	key := s.indexKey(workflowID)
	out := make([]*nodeflow.ApprovalRequest, 0, limit)
	for start := int64(0); len(out) < limit; start += page {
		ids, err := s.client.ZRevRange(ctx, key, start, start+page-1).Result()
		if err != nil {
			return nil, fmt.Errorf("list approvals: %w", err)
		}
		for _, id := range ids {
			req, err := s.Get(ctx, id)
			if errors.Is(err, nodeflow.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if status != "" && req.Status != status {
				continue
			}
			out = append(out, req)
			if len(out) == limit {
				break
			}
		}
		if len(ids) < page {
			break
		}
	}
	return out, nil
}

// NewRedis returns stores sharing client.
func NewRedis(client *redis.Client, keyPrefix string) Stores {
	return Stores{
		Executions: NewRedisExecutionStore(client, keyPrefix),
		Approvals:  NewRedisApprovalStore(client, keyPrefix),
		Close:      client.Close,
	}
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJSON[T any](ctx context.Context, c stringGetter, key string) (*T, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nodeflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func watchRetry(ctx context.Context, client *redis.Client, txf func(*redis.Tx) error, key string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too much contention", key)
}
