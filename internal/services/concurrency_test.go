package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soochol/nodeflow/internal/config"
)

func blockedAcquire(t *testing.T, l *ConcurrencyLimiter, workflowID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, workflowID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire(%s) = %v, want deadline exceeded", workflowID, err)
	}
}

func TestConcurrencyLimiter_Defaults(t *testing.T) {
	stats := NewConcurrencyLimiter(config.SchedulerConfig{}).Stats()
	if stats.GlobalMax != 10 || stats.PerWorkflow != 3 {
		t.Fatalf("defaults = %+v", stats)
	}
}

func TestConcurrencyLimiter_GlobalLimit(t *testing.T) {
	l := NewConcurrencyLimiter(config.SchedulerConfig{GlobalMax: 2, PerWorkflow: 5})
	ctx := context.Background()

	if err := l.Acquire(ctx, "wf-a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(ctx, "wf-b"); err != nil {
		t.Fatal(err)
	}
	blockedAcquire(t, l, "wf-c")

	// The timed-out waiter must not leave its slot behind.
	if _, ok := l.Stats().ByWorkflow["wf-c"]; ok {
		t.Error("wf-c counted as active")
	}
	l.Release("wf-a")
	if err := l.Acquire(ctx, "wf-c"); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestConcurrencyLimiter_PerWorkflowLimit(t *testing.T) {
	l := NewConcurrencyLimiter(config.SchedulerConfig{GlobalMax: 10, PerWorkflow: 1})
	ctx := context.Background()

	if err := l.Acquire(ctx, "wf-a"); err != nil {
		t.Fatal(err)
	}
	blockedAcquire(t, l, "wf-a")

	if err := l.Acquire(ctx, "wf-b"); err != nil {
		t.Fatalf("different workflow should succeed: %v", err)
	}
	stats := l.Stats()
	if stats.ActiveRuns != 2 || stats.ByWorkflow["wf-a"] != 1 || stats.ByWorkflow["wf-b"] != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	// The per-workflow wait released its global slot: 8 more fit.
	for i := 0; i < 8; i++ {
		if err := l.Acquire(ctx, "other"+string(rune('0'+i))); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}

func TestConcurrencyLimiter_ReleaseReclaimsSlots(t *testing.T) {
	l := NewConcurrencyLimiter(config.SchedulerConfig{GlobalMax: 2, PerWorkflow: 2})
	ctx := context.Background()

	l.Release("never-acquired")
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx, "wf"); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		l.Release("wf")
		l.Release("wf")
	}

	l.mu.Lock()
	n := len(l.slots)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("slots left behind: %d", n)
	}
	if stats := l.Stats(); stats.ActiveRuns != 0 {
		t.Fatalf("active = %d", stats.ActiveRuns)
	}
}

func TestConcurrencyLimiter_ConcurrentAccess(t *testing.T) {
	l := NewConcurrencyLimiter(config.SchedulerConfig{GlobalMax: 5, PerWorkflow: 3})
	ctx := context.Background()

	var wg sync.WaitGroup
	var inFlight, peak atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx, "test-wf"); err != nil {
				return
			}
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			l.Release("test-wf")
		}()
	}
	wg.Wait()

	if stats := l.Stats(); stats.ActiveRuns != 0 {
		t.Fatalf("expected 0 active after all done, got %d", stats.ActiveRuns)
	}
	if p := peak.Load(); p > 3 {
		t.Fatalf("per-workflow limit exceeded: peak %d", p)
	}
}
