// Package services hosts the run-level plumbing between the HTTP surface
// and the engine: concurrency limits, the replayable event buffer and the
// runner that ties them together.
package services

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/soochol/nodeflow/internal/config"
)

// ConcurrencyLimiter bounds how many engine invocations run at once, both
// system wide and per workflow. Per-workflow slots are dropped once nothing
// holds or waits on them.
type ConcurrencyLimiter struct {
	limits config.SchedulerConfig
	global *semaphore.Weighted

	mu    sync.Mutex
	slots map[string]*workflowSlot
}

type workflowSlot struct {
	sem    *semaphore.Weighted
	refs   int // holders plus waiters
	active int
}

func NewConcurrencyLimiter(limits config.SchedulerConfig) *ConcurrencyLimiter {
	if limits.GlobalMax <= 0 {
		limits.GlobalMax = 10
	}
	if limits.PerWorkflow <= 0 {
		limits.PerWorkflow = 3
	}
	return &ConcurrencyLimiter{
		limits: limits,
		global: semaphore.NewWeighted(int64(limits.GlobalMax)),
		slots:  make(map[string]*workflowSlot),
	}
}

// Acquire blocks until a global and a per-workflow slot are both held, or
// ctx ends.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context, workflowID string) error {
	slot := c.ref(workflowID)
	if err := c.global.Acquire(ctx, 1); err != nil {
		c.unref(workflowID)
		return err
	}
	if err := slot.sem.Acquire(ctx, 1); err != nil {
		c.global.Release(1)
		c.unref(workflowID)
		return err
	}
	c.mu.Lock()
	slot.active++
	c.mu.Unlock()
	return nil
}

// Release returns the slots taken by a successful Acquire. Releasing a
// workflow with nothing held is a no-op.
func (c *ConcurrencyLimiter) Release(workflowID string) {
	c.mu.Lock()
	slot, ok := c.slots[workflowID]
	if !ok || slot.active == 0 {
		c.mu.Unlock()
		return
	}
	slot.active--
	slot.refs--
	if slot.refs == 0 {
		delete(c.slots, workflowID)
	}
	c.mu.Unlock()

	slot.sem.Release(1)
	c.global.Release(1)
}

type ConcurrencyStats struct {
	ActiveRuns  int            `json:"active_runs"`
	GlobalMax   int            `json:"global_max"`
	PerWorkflow int            `json:"per_workflow"`
	ByWorkflow  map[string]int `json:"by_workflow,omitempty"`
}

func (c *ConcurrencyLimiter) Stats() ConcurrencyStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := ConcurrencyStats{
		GlobalMax:   c.limits.GlobalMax,
		PerWorkflow: c.limits.PerWorkflow,
		ByWorkflow:  make(map[string]int),
	}
	for id, slot := range c.slots {
		if slot.active > 0 {
			stats.ByWorkflow[id] = slot.active
			stats.ActiveRuns += slot.active
		}
	}
	return stats
}

func (c *ConcurrencyLimiter) ref(id string) *workflowSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[id]
	if !ok {
		slot = &workflowSlot{sem: semaphore.NewWeighted(int64(c.limits.PerWorkflow))}
		c.slots[id] = slot
	}
	slot.refs++
	return slot
}

func (c *ConcurrencyLimiter) unref(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot, ok := c.slots[id]; ok {
		slot.refs--
		if slot.refs == 0 {
			delete(c.slots, id)
		}
	}
}
