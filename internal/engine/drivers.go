package engine

import (
	"context"
	"sync"
)

// DriverRegistry tracks the in-flight driver of each execution so Cancel can
// interrupt a capability call that is still running.
type DriverRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewDriverRegistry() *DriverRegistry {
	return &DriverRegistry{cancels: make(map[string]context.CancelFunc)}
}

// Register records the driver for executionID.
func (r *DriverRegistry) Register(executionID string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancels[executionID] = cancel
	r.mu.Unlock()
}

// Cancel interrupts the driver, if one is active.
func (r *DriverRegistry) Cancel(executionID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[executionID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Unregister removes a finished driver.
func (r *DriverRegistry) Unregister(executionID string) {
	r.mu.Lock()
	delete(r.cancels, executionID)
	r.mu.Unlock()
}
