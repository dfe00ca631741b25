package journey

import (
	"fmt"
	"sort"
)

// StateGraph is the compiled, immutable execution graph of a journey
// definition: nodes indexed by ID, outgoing transitions sorted by
// priority, and identified start/end nodes. Per-run mutable state (node
// statuses) lives on the ExecutionContext, never here.
type StateGraph struct {
	StartNodeID string
	EndNodeIDs  []string

	nodes        map[string]StepNode
	outgoing     map[string][]Transition
	predecessors map[string][]string
	order        []string
}

// Edge is a bare directed edge used by the graph analysis helpers.
type Edge struct {
	From string
	To   string
}

// CompileGraph validates a definition and builds its StateGraph. It fails
// fast with GRAPH_INVALID if there is not exactly one start node, no end
// node, a transition referencing an unknown step, or an outgoing
// transition from an end node.
func CompileGraph(def JourneyDefinition) (*StateGraph, error) {
	g := &StateGraph{
		nodes:        make(map[string]StepNode, len(def.Steps)),
		outgoing:     make(map[string][]Transition),
		predecessors: make(map[string][]string),
	}

	for _, step := range def.Steps {
		if step.ID == "" {
			return nil, NewError(CodeGraphInvalid, "step with empty ID")
		}
		if _, dup := g.nodes[step.ID]; dup {
			return nil, NewError(CodeGraphInvalid, "duplicate step ID: "+step.ID)
		}
		g.nodes[step.ID] = step
		g.order = append(g.order, step.ID)

		if step.IsStart {
			if g.StartNodeID != "" {
				return nil, NewError(CodeGraphInvalid, "multiple start nodes: "+g.StartNodeID+", "+step.ID)
			}
			g.StartNodeID = step.ID
		}
		if step.IsEnd {
			g.EndNodeIDs = append(g.EndNodeIDs, step.ID)
		}
	}

	if g.StartNodeID == "" {
		return nil, NewError(CodeGraphInvalid, "no start node")
	}
	if len(g.EndNodeIDs) == 0 {
		return nil, NewError(CodeGraphInvalid, "no end node")
	}

	for _, tr := range def.Transitions {
		from, ok := g.nodes[tr.From]
		if !ok {
			return nil, NewError(CodeGraphInvalid, fmt.Sprintf("transition %s references unknown step %q", tr.ID, tr.From))
		}
		if _, ok := g.nodes[tr.To]; !ok {
			return nil, NewError(CodeGraphInvalid, fmt.Sprintf("transition %s references unknown step %q", tr.ID, tr.To))
		}
		if from.IsEnd {
			return nil, NewError(CodeGraphInvalid, "end node has outgoing transition: "+tr.From)
		}
		g.outgoing[tr.From] = append(g.outgoing[tr.From], tr)
		g.predecessors[tr.To] = append(g.predecessors[tr.To], tr.From)
	}

	// Priority order is fixed at compile time; ties keep definition order.
	for from := range g.outgoing {
		out := g.outgoing[from]
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Priority < out[j].Priority
		})
	}

	return g, nil
}

// Node returns the step with the given ID.
func (g *StateGraph) Node(id string) (StepNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeIDs returns all node IDs in definition order.
func (g *StateGraph) NodeIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Outgoing returns the outgoing transitions of a node, sorted by priority
// then definition order.
func (g *StateGraph) Outgoing(id string) []Transition {
	return g.outgoing[id]
}

// Predecessors returns the IDs of nodes with a transition into id.
func (g *StateGraph) Predecessors(id string) []string {
	return g.predecessors[id]
}

// Edges returns the bare edge list, in definition order, for the graph
// analysis helpers.
func (g *StateGraph) Edges() []Edge {
	var edges []Edge
	for _, from := range g.order {
		for _, tr := range g.outgoing[from] {
			edges = append(edges, Edge{From: tr.From, To: tr.To})
		}
	}
	return edges
}

// IsEnd reports whether a node is an end node.
func (g *StateGraph) IsEnd(id string) bool {
	n, ok := g.nodes[id]
	return ok && n.IsEnd
}

// newNodeStatusMap seeds every node pending, the per-run arena carried on
// ExecutionContext.
func (g *StateGraph) newNodeStatusMap() map[string]NodeStatus {
	m := make(map[string]NodeStatus, len(g.nodes))
	for id := range g.nodes {
		m[id] = NodePending
	}
	return m
}
