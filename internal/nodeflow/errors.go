package nodeflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrApprovalRejected = errors.New("approval rejected")
	ErrStillPending     = errors.New("approval still pending")
	ErrCancelled        = errors.New("cancelled")

	// ErrNotPaused and ErrAlreadyResolved are carried by a StateConflictError.
	ErrNotPaused       = errors.New("execution is not paused")
	ErrAlreadyResolved = errors.New("approval already resolved")
)

// ValidationError reports every problem found in a graph.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid graph: " + strings.Join(e.Problems, "; ")
}

// Add records a problem.
func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// OrNil returns e when at least one problem was recorded.
func (e *ValidationError) OrNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// CapabilityError is a failed provider call made on behalf of a node.
type CapabilityError struct {
	NodeID     string
	Capability string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("node %s: %s failed: %v", e.NodeID, e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// TimeoutError is a node that exceeded its budget. It matches
// *CapabilityError under errors.As.
type TimeoutError struct {
	NodeID     string
	Capability string
	Budget     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s: %s timed out after %s", e.NodeID, e.Capability, e.Budget)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

func (e *TimeoutError) As(target any) bool {
	if ce, ok := target.(**CapabilityError); ok {
		*ce = &CapabilityError{NodeID: e.NodeID, Capability: e.Capability, Err: e}
		return true
	}
	return false
}

// StateConflictError is a guarded transition whose precondition no longer
// holds. No state was mutated.
type StateConflictError struct {
	ID     string
	Actual string
	Err    error
}

func (e *StateConflictError) Error() string {
	reason := "state conflict"
	if e.Err != nil {
		reason = e.Err.Error()
	}
	if e.Actual != "" {
		return fmt.Sprintf("%s: %s (status %s)", e.ID, reason, e.Actual)
	}
	return fmt.Sprintf("%s: %s", e.ID, reason)
}

func (e *StateConflictError) Unwrap() error { return e.Err }

// FetchError is a web-fetch provider failure.
type FetchError struct {
	URL        string
	Provider   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s via %s: status %d: %v", e.URL, e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s via %s: %v", e.URL, e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
