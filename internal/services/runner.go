package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/soochol/nodeflow/internal/engine"
	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

// Runner admits engine invocations through the concurrency limiter and
// copies their progress into the RunManager buffer.
type Runner struct {
	engine  *engine.Engine
	limiter *ConcurrencyLimiter
	runs    *RunManager
	logger  *slog.Logger
}

func NewRunner(eng *engine.Engine, limiter *ConcurrencyLimiter, runs *RunManager, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{engine: eng, limiter: limiter, runs: runs, logger: logger}
}

func (r *Runner) Engine() *engine.Engine { return r.engine }
func (r *Runner) Runs() *RunManager      { return r.runs }

// Start runs g to its first stop (completion, failure or pause) and returns
// the record. It waits for a concurrency slot first.
func (r *Runner) Start(ctx context.Context, g *nodeflow.Graph, input any, sink ports.ProgressSink) (*nodeflow.Execution, error) {
	key := workflowKey(g)
	if err := r.limiter.Acquire(ctx, key); err != nil {
		return nil, fmt.Errorf("wait for run slot: %w", err)
	}
	defer r.limiter.Release(key)
	return r.engine.Start(ctx, g, input, r.tee(sink))
}

// StartAsync starts g in the background and returns the new execution id
// as soon as the engine has recorded it. ctx bounds only the wait for a
// slot and the id; the run itself continues after the caller leaves.
func (r *Runner) StartAsync(ctx context.Context, g *nodeflow.Graph, input any) (string, error) {
	ids := make(chan string, 1)
	errs := make(chan error, 1)
	var once sync.Once
	announce := engine.SinkFunc(func(ev nodeflow.Event) {
		once.Do(func() { ids <- ev.ExecutionID })
	})

	go func() {
		key := workflowKey(g)
		if err := r.limiter.Acquire(ctx, key); err != nil {
			errs <- fmt.Errorf("wait for run slot: %w", err)
			return
		}
		defer r.limiter.Release(key)

		exec, err := r.engine.Start(context.WithoutCancel(ctx), g, input, r.tee(announce))
		switch {
		case exec == nil:
			errs <- err
		case err != nil:
			r.logger.Warn("background run rejected", "execution_id", exec.ID, "err", err)
		default:
			r.logger.Info("background run stopped", "execution_id", exec.ID, "status", exec.Status)
		}
	}()

	select {
	case id := <-ids:
		return id, nil
	case err := <-errs:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resume continues a paused execution under the same limits as Start.
func (r *Runner) Resume(ctx context.Context, executionID string, sink ports.ProgressSink) (*nodeflow.Execution, error) {
	exec, err := r.engine.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	key := exec.WorkflowID
	if err := r.limiter.Acquire(ctx, key); err != nil {
		return nil, fmt.Errorf("wait for run slot: %w", err)
	}
	defer r.limiter.Release(key)
	return r.engine.Resume(ctx, executionID, r.tee(sink))
}

// Cancel stops an execution and closes its replay buffer with the
// cancellation error.
func (r *Runner) Cancel(ctx context.Context, executionID string) (*nodeflow.Execution, error) {
	return r.engine.Cancel(ctx, executionID, r.tee(nil))
}

// tee sends each event to the replay buffer and then to sink.
func (r *Runner) tee(sink ports.ProgressSink) ports.ProgressSink {
	buffer := r.runs.Sink()
	if sink == nil {
		return buffer
	}
	return engine.SinkFunc(func(ev nodeflow.Event) {
		buffer.Emit(ev)
		sink.Emit(ev)
	})
}

func workflowKey(g *nodeflow.Graph) string {
	if g == nil {
		return ""
	}
	if g.ID != "" {
		return g.ID
	}
	return g.Name
}
