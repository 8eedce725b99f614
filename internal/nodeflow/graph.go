package nodeflow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NodeKind is the closed set of node variants a graph may contain.
type NodeKind string

const (
	NodeKindAgent     NodeKind = "agent"
	NodeKindExtract   NodeKind = "extract"
	NodeKindScrape    NodeKind = "scrape"
	NodeKindCondition NodeKind = "condition"
	NodeKindApproval  NodeKind = "approval"
)

// NodeKinds lists every supported kind in a stable order.
var NodeKinds = []NodeKind{NodeKindAgent, NodeKindExtract, NodeKindScrape, NodeKindCondition, NodeKindApproval}

// Graph is the workflow definition a run executes against. It is treated as
// immutable once a run starts; the run keeps its own snapshot.
type Graph struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Kind   NodeKind       `json:"kind" yaml:"kind"`
	Label  string         `json:"label,omitempty" yaml:"label,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	// Inputs declares the bindings the node reads. A non-empty Kind is
	// checked against the binding at dispatch time.
	Inputs []InputDecl `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

type InputDecl struct {
	Name string    `json:"name" yaml:"name"`
	Kind ValueKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// Edge is a control-flow link. A non-empty Condition is an expression that
// must evaluate truthy for the edge to be traversed.
type Edge struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// String returns the config value under key, or "" if absent or not a string.
func (n *Node) String(key string) string {
	s, _ := n.Config[key].(string)
	return strings.TrimSpace(s)
}

// Strings returns a string list config value. Both []string and []any
// (as decoded from JSON or YAML) are accepted.
func (n *Node) Strings(key string) []string {
	switch v := n.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Float returns a numeric config value.
func (n *Node) Float(key string) (float64, bool) {
	switch v := n.Config[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Timeout parses the optional "timeout" config. Numbers are seconds, strings
// are Go durations. A zero duration means no override.
func (n *Node) Timeout() (time.Duration, error) {
	raw, ok := n.Config["timeout"]
	if !ok || raw == nil {
		return 0, nil
	}
	var d time.Duration
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("timeout %q: %w", v, err)
		}
		d = parsed
	default:
		secs, ok := n.Float("timeout")
		if !ok {
			return 0, fmt.Errorf("timeout must be a number of seconds or a duration string")
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive")
	}
	return d, nil
}
