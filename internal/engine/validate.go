package engine

import (
	"github.com/soochol/nodeflow/internal/dag"
	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodes"
)

// inputBinding is the name the run input is bound to.
const inputBinding = "input"

// validate checks g without side effects and returns its indexed structure.
// Every problem found is reported, not only the first.
func validate(g *nodeflow.Graph, registry *nodes.Registry) (*dag.DAG, error) {
	verr := &nodeflow.ValidationError{}
	if g == nil || len(g.Nodes) == 0 {
		verr.Add("graph has no nodes")
		return nil, verr
	}

	ids := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		switch {
		case n.ID == "":
			verr.Add("node %d has no id", i)
			continue
		case n.ID == inputBinding:
			verr.Add("node id %q is reserved", n.ID)
		case ids[n.ID]:
			verr.Add("duplicate node id %q", n.ID)
		}
		ids[n.ID] = true

		exec, err := registry.Lookup(n.Kind)
		if err != nil {
			verr.Add("node %s: %v", n.ID, err)
			continue
		}
		if err := exec.Validate(n); err != nil {
			verr.Add("node %s (%s): %v", n.ID, n.Kind, err)
		}
		if _, err := n.Timeout(); err != nil {
			verr.Add("node %s: %v", n.ID, err)
		}
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	for i, e := range g.Edges {
		label := e.ID
		if label == "" {
			label = e.Source + "->" + e.Target
		}
		if e.ID != "" {
			if edgeIDs[e.ID] {
				verr.Add("duplicate edge id %q", e.ID)
			}
			edgeIDs[e.ID] = true
		}
		if !ids[e.Source] {
			verr.Add("edge %d (%s): unknown source node %q", i, label, e.Source)
		}
		if !ids[e.Target] {
			verr.Add("edge %d (%s): unknown target node %q", i, label, e.Target)
		}
		if e.Source == e.Target {
			verr.Add("edge %s: self loop", label)
		}
		if e.Condition != "" {
			if err := nodes.CompileCondition(e.Condition); err != nil {
				verr.Add("edge %s: %v", label, err)
			}
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	d, err := dag.Build(g)
	if err != nil {
		verr.Add("%v", err)
		return nil, verr
	}

	for _, id := range d.TopologicalOrder() {
		n := d.Node(id)
		ancestors := d.Ancestors(id)
		for _, in := range n.Inputs {
			if in.Name != inputBinding && !ancestors[in.Name] {
				verr.Add("node %s: input %q is not produced by an upstream node", id, in.Name)
			}
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return d, nil
}
