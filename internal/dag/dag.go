package dag

import (
	"fmt"
	"sort"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

// DAG is the indexed control-flow structure of a graph.
type DAG struct {
	nodes     map[string]*nodeflow.Node
	children  map[string][]string
	parents   map[string][]string
	incoming  map[string][]nodeflow.Edge
	outgoing  map[string][]nodeflow.Edge
	topoOrder []string
}

// Build indexes g and computes a deterministic topological order. Ties
// between ready nodes are broken by node id.
func Build(g *nodeflow.Graph) (*DAG, error) {
	d := &DAG{
		nodes:    make(map[string]*nodeflow.Node),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
		incoming: make(map[string][]nodeflow.Edge),
		outgoing: make(map[string][]nodeflow.Edge),
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, exists := d.nodes[n.ID]; exists {
			return nil, fmt.Errorf("duplicate node ID: %s", n.ID)
		}
		d.nodes[n.ID] = n
	}

	for _, e := range g.Edges {
		if _, ok := d.nodes[e.Source]; !ok {
			return nil, fmt.Errorf("edge references unknown node: %s", e.Source)
		}
		if _, ok := d.nodes[e.Target]; !ok {
			return nil, fmt.Errorf("edge references unknown node: %s", e.Target)
		}
		d.incoming[e.Target] = append(d.incoming[e.Target], e)
		d.outgoing[e.Source] = append(d.outgoing[e.Source], e)
		if !contains(d.children[e.Source], e.Target) {
			d.children[e.Source] = append(d.children[e.Source], e.Target)
			d.parents[e.Target] = append(d.parents[e.Target], e.Source)
		}
	}

	order, err := d.topoSort()
	if err != nil {
		return nil, err
	}
	d.topoOrder = order
	return d, nil
}

func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int)
	for id := range d.nodes {
		inDegree[id] = 0
	}
	for _, children := range d.children {
		for _, c := range children {
			inDegree[c]++
		}
	}
	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)
	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for _, c := range d.children[node] {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
		sort.Strings(queue)
	}
	if len(order) != len(d.nodes) {
		return nil, fmt.Errorf("cycle detected in workflow graph")
	}
	return order, nil
}

func (d *DAG) TopologicalOrder() []string             { return d.topoOrder }
func (d *DAG) Children(nodeID string) []string        { return d.children[nodeID] }
func (d *DAG) Parents(nodeID string) []string         { return d.parents[nodeID] }
func (d *DAG) Node(id string) *nodeflow.Node          { return d.nodes[id] }
func (d *DAG) Incoming(nodeID string) []nodeflow.Edge { return d.incoming[nodeID] }
func (d *DAG) Outgoing(nodeID string) []nodeflow.Edge { return d.outgoing[nodeID] }

// Roots returns the nodes without parents in topological order.
func (d *DAG) Roots() []string {
	var roots []string
	for _, id := range d.topoOrder {
		if len(d.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Leaves returns the nodes without children in topological order.
func (d *DAG) Leaves() []string {
	var leaves []string
	for _, id := range d.topoOrder {
		if len(d.children[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Ancestors returns every node from which id is reachable.
func (d *DAG) Ancestors(id string) map[string]bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), d.parents[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, d.parents[n]...)
	}
	return seen
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
