package approval

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/repository"
)

func TestRequestIsIdempotentPerNode(t *testing.T) {
	g := NewGate(repository.NewMemoryApprovalStore(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := g.Request(ctx, "e1", "wf", "gate", "ok?")
			require.NoError(t, err)
			ids[i] = req.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	other, err := g.Request(ctx, "e1", "wf", "second-gate", "ok?")
	require.NoError(t, err)
	assert.NotEqual(t, ids[0], other.ID)
}

func TestResolveOnce(t *testing.T) {
	g := NewGate(repository.NewMemoryApprovalStore(), nil)
	ctx := context.Background()
	req, err := g.Request(ctx, "e1", "wf", "gate", "ok?")
	require.NoError(t, err)

	got, err := g.Resolve(ctx, req.ID, nodeflow.ApprovalApproved, "alice")
	require.NoError(t, err)
	assert.Equal(t, nodeflow.ApprovalApproved, got.Status)
	assert.Equal(t, "alice", got.RespondedBy)
	require.NotNil(t, got.RespondedAt)

	_, err = g.Resolve(ctx, req.ID, nodeflow.ApprovalRejected, "bob")
	assert.ErrorIs(t, err, nodeflow.ErrAlreadyResolved)
	var conflict *nodeflow.StateConflictError
	assert.ErrorAs(t, err, &conflict)

	stored, err := g.ForNode(ctx, "e1", "gate")
	require.NoError(t, err)
	assert.Equal(t, nodeflow.ApprovalApproved, stored.Status)
}

func TestResolveRejectsBadInput(t *testing.T) {
	g := NewGate(repository.NewMemoryApprovalStore(), nil)
	ctx := context.Background()

	_, err := g.Resolve(ctx, "missing", nodeflow.ApprovalApproved, "alice")
	assert.ErrorIs(t, err, nodeflow.ErrNotFound)

	req, err := g.Request(ctx, "e1", "wf", "gate", "")
	require.NoError(t, err)
	_, err = g.Resolve(ctx, req.ID, nodeflow.ApprovalPending, "alice")
	assert.Error(t, err)

	_, err = g.Get(ctx, "missing")
	assert.ErrorIs(t, err, nodeflow.ErrNotFound)
}

type recordingNotifier struct{ ids []string }

func (r *recordingNotifier) ApprovalRequested(_ context.Context, req *nodeflow.ApprovalRequest) {
	r.ids = append(r.ids, req.ID)
}

func TestNotifierSeesOnlyNewRequests(t *testing.T) {
	g := NewGate(repository.NewMemoryApprovalStore(), nil)
	n := &recordingNotifier{}
	g.SetNotifier(n)
	ctx := context.Background()

	first, err := g.Request(ctx, "e1", "wf", "gate", "ok?")
	require.NoError(t, err)
	_, err = g.Request(ctx, "e1", "wf", "gate", "ok?")
	require.NoError(t, err)

	assert.Equal(t, []string{first.ID}, n.ids)
}

func TestListFiltersByStatusAndWorkflow(t *testing.T) {
	g := NewGate(repository.NewMemoryApprovalStore(), nil)
	ctx := context.Background()

	a, err := g.Request(ctx, "e1", "wf-a", "gate", "ok?")
	require.NoError(t, err)
	_, err = g.Request(ctx, "e2", "wf-a", "gate", "ok?")
	require.NoError(t, err)
	_, err = g.Request(ctx, "e3", "wf-b", "gate", "ok?")
	require.NoError(t, err)
	_, err = g.Resolve(ctx, a.ID, nodeflow.ApprovalRejected, "bob")
	require.NoError(t, err)

	pending, err := g.List(ctx, nodeflow.ApprovalPending, "", 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	ofA, err := g.List(ctx, nodeflow.ApprovalPending, "wf-a", 0)
	require.NoError(t, err)
	require.Len(t, ofA, 1)
	assert.Equal(t, "e2", ofA[0].ExecutionID)

	all, err := g.List(ctx, "", "wf-a", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = g.List(ctx, "bogus", "", 0)
	assert.Error(t, err)
}

func TestRequestRecoversFromOrphanRedisClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	g := NewGate(repository.NewRedisApprovalStore(client, "test:"), nil)
	ctx := context.Background()

	require.NoError(t, mr.Set("test:approval:node:exec-1:c", "lost"))

	first, err := g.Request(ctx, "exec-1", "wf", "c", "ok?")
	require.NoError(t, err)
	second, err := g.Request(ctx, "exec-1", "wf", "c", "ok?")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}
