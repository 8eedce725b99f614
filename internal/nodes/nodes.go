// Package nodes implements one executor per node kind. Executors are pure
// with respect to run state: they read a variable snapshot, call the
// capabilities they need, and report an Outcome.
package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

// Capability names recorded on CapabilityError and TimeoutError.
const (
	CapabilityModel = "model-call"
	CapabilityFetch = "web-fetch"
)

// Capabilities bundles the providers available to executors. Fields may be
// nil; an executor that needs a missing provider fails with a CapabilityError.
type Capabilities struct {
	Model   ports.ModelCaller
	Fetcher ports.WebFetcher
	Logger  *slog.Logger
}

func (c Capabilities) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Suspend asks the engine to pause the run at the current node.
type Suspend struct {
	Message string
}

// Outcome is what an executor produced. Exactly one of Output and Suspend
// is meaningful.
type Outcome struct {
	Output    any
	ToolTrace []nodeflow.ToolCall
	Attempts  int
	Suspend   *Suspend
}

// Executor runs nodes of a single kind.
type Executor interface {
	Kind() nodeflow.NodeKind
	// Validate checks the node config before any run starts.
	Validate(n *nodeflow.Node) error
	Execute(ctx context.Context, n *nodeflow.Node, vars nodeflow.Variables, caps Capabilities) (Outcome, error)
	// Capability names the provider the executor depends on, or "".
	Capability() string
}

// Registry maps node kinds to their executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[nodeflow.NodeKind]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[nodeflow.NodeKind]Executor)}
}

// Register adds an executor, replacing any previous one for the same kind.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Kind()] = e
}

// Lookup returns the executor for kind.
func (r *Registry) Lookup(kind nodeflow.NodeKind) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("unknown node kind %q", kind)
	}
	return e, nil
}

// DefaultRegistry returns a registry with the five built-in kinds. tools may
// be nil, in which case agent nodes may not declare tools.
func DefaultRegistry(tools ports.ToolCaller) *Registry {
	r := NewRegistry()
	r.Register(&AgentExecutor{Tools: tools})
	r.Register(&ExtractExecutor{})
	r.Register(&ScrapeExecutor{})
	r.Register(&ConditionExecutor{})
	r.Register(&ApprovalExecutor{})
	return r
}

func capabilityErr(n *nodeflow.Node, capability string, err error) error {
	return &nodeflow.CapabilityError{NodeID: n.ID, Capability: capability, Err: err}
}
