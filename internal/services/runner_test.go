package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/nodeflow/internal/approval"
	"github.com/soochol/nodeflow/internal/config"
	"github.com/soochol/nodeflow/internal/engine"
	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodes"
	"github.com/soochol/nodeflow/internal/repository"
)

func newRunner(t *testing.T) *Runner {
	t.Helper()
	return newRunnerWith(t, nodes.Capabilities{})
}

func newRunnerWith(t *testing.T, caps nodes.Capabilities) *Runner {
	t.Helper()
	stores := repository.NewMemory()
	eng := engine.New(stores.Executions, approval.NewGate(stores.Approvals, nil), nodes.DefaultRegistry(nil), caps)
	rm := NewRunManager(time.Minute)
	t.Cleanup(rm.Stop)
	return NewRunner(eng, NewConcurrencyLimiter(config.SchedulerConfig{GlobalMax: 2, PerWorkflow: 1}), rm, nil)
}

// gateGraph is condition -> approval -> condition; it needs no capabilities.
func gateGraph() *nodeflow.Graph {
	return &nodeflow.Graph{
		ID: "wf-gate",
		Nodes: []nodeflow.Node{
			{ID: "check", Kind: nodeflow.NodeKindCondition, Config: map[string]any{"expression": "input > 3"}},
			{ID: "ok", Kind: nodeflow.NodeKindApproval, Config: map[string]any{"message": "Go ahead?"}},
			{ID: "after", Kind: nodeflow.NodeKindCondition, Config: map[string]any{"expression": "true"}},
		},
		Edges: []nodeflow.Edge{
			{Source: "check", Target: "ok"},
			{Source: "ok", Target: "after"},
		},
	}
}

func TestRunner_StartPauseResume(t *testing.T) {
	r := newRunner(t)
	ctx := context.Background()

	exec, err := r.Start(ctx, gateGraph(), 5, nil)
	require.NoError(t, err)
	require.Equal(t, nodeflow.StatusPaused, exec.Status)

	events, _, idle, found := r.Runs().Subscribe(exec.ID, 0)
	require.True(t, found)
	assert.True(t, idle)
	assert.Equal(t, nodeflow.EventStart, events[0].Event.Type)
	assert.Equal(t, nodeflow.EventPaused, events[len(events)-1].Event.Type)

	req, err := r.Engine().Approvals().ForNode(ctx, exec.ID, "ok")
	require.NoError(t, err)
	_, err = r.Engine().Approvals().Resolve(ctx, req.ID, nodeflow.ApprovalApproved, "ops")
	require.NoError(t, err)

	exec, err = r.Resume(ctx, exec.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, nodeflow.StatusCompleted, exec.Status)

	all, _, idle, _ := r.Runs().Subscribe(exec.ID, 0)
	assert.True(t, idle)
	assert.Greater(t, len(all), len(events))
	assert.Equal(t, nodeflow.EventComplete, all[len(all)-1].Event.Type)
	assert.Zero(t, r.limiter.Stats().ActiveRuns)
}

func TestRunner_StartAsync(t *testing.T) {
	r := newRunner(t)
	id, err := r.StartAsync(context.Background(), gateGraph(), 5)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		exec, err := r.Engine().Get(context.Background(), id)
		return err == nil && exec.Status == nodeflow.StatusPaused
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRunner_StartAsyncInvalidGraphStillRecorded(t *testing.T) {
	r := newRunner(t)
	id, err := r.StartAsync(context.Background(), &nodeflow.Graph{ID: "bad"}, nil)
	require.NoError(t, err)

	exec, err := r.Engine().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, nodeflow.StatusFailed, exec.Status)
}

func TestRunner_StartWaitsForSlot(t *testing.T) {
	r := newRunner(t)
	require.NoError(t, r.limiter.Acquire(context.Background(), "wf-gate"))
	defer r.limiter.Release("wf-gate")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.Start(ctx, gateGraph(), 5, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = r.StartAsync(ctx, gateGraph(), 5)
	assert.Error(t, err)
}

// blockingModel answers only when its context ends.
type blockingModel struct{ entered chan struct{} }

func (m blockingModel) Invoke(ctx context.Context, _ nodeflow.ModelRequest) (*nodeflow.ModelResponse, error) {
	close(m.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunner_CancelRunningClosesEventBuffer(t *testing.T) {
	model := blockingModel{entered: make(chan struct{})}
	r := newRunnerWith(t, nodes.Capabilities{Model: model})
	g := &nodeflow.Graph{ID: "wf-slow", Nodes: []nodeflow.Node{
		{ID: "slow", Kind: nodeflow.NodeKindAgent, Config: map[string]any{"prompt": "wait"}},
	}}

	id, err := r.StartAsync(context.Background(), g, nil)
	require.NoError(t, err)
	<-model.entered

	exec, err := r.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, nodeflow.StatusFailed, exec.Status)

	events, _, idle, found := r.Runs().Subscribe(id, 0)
	require.True(t, found)
	assert.True(t, idle)
	last := events[len(events)-1].Event
	assert.Equal(t, nodeflow.EventError, last.Type)
	assert.Equal(t, "cancelled", last.Payload["error"])

	require.Eventually(t, func() bool {
		return r.limiter.Stats().ActiveRuns == 0
	}, 5*time.Second, 10*time.Millisecond)
	all, _, _, _ := r.Runs().Subscribe(id, 0)
	assert.Len(t, all, len(events), "the stopped driver emits nothing more")
}

func TestRunner_CancelPausedEndsWithError(t *testing.T) {
	r := newRunner(t)
	exec, err := r.Start(context.Background(), gateGraph(), 5, nil)
	require.NoError(t, err)
	require.Equal(t, nodeflow.StatusPaused, exec.Status)

	_, err = r.Cancel(context.Background(), exec.ID)
	require.NoError(t, err)

	events, _, idle, _ := r.Runs().Subscribe(exec.ID, 0)
	assert.True(t, idle)
	assert.Equal(t, nodeflow.EventError, events[len(events)-1].Event.Type)
}
