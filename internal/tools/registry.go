package tools

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

// Registry holds the tools agent nodes may reference by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

var _ ports.ToolCaller = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Default registers the built-in tools. fetcher backs get_webpage.
func Default(fetcher ports.WebFetcher, client *http.Client) *Registry {
	r := NewRegistry()
	r.Register(&GetWebpageTool{Fetcher: fetcher})
	r.Register(&HTTPRequestTool{Client: client})
	r.Register(&RSSFeedTool{Client: client})
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Describe returns what a model needs to declare the tool.
func (r *Registry) Describe(name string) (string, map[string]any, bool) {
	t, ok := r.Get(name)
	if !ok {
		return "", nil, false
	}
	return t.Description(), t.InputSchema(), true
}

func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %q", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return t.Execute(ctx, args)
}

// ToolInfo is the API listing form of a tool.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// List returns every tool sorted by name.
func (r *Registry) List() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, ToolInfo{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
