// Package workflow builds a labeled DAG: nodes reference
// a model.op, carry a static input map, and are wired together by edges that
// project a predecessor's output into a successor's input. It freezes the
// graph at build time (every edge must resolve) and topologically orders it
// with Kahn's algorithm, lexicographic node_id tie-break, before any
// runtime executes it.
package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/syssam/dataflow/dialect/sql"
)

// Edge connects one node's output to another node's input parameter,
// optionally projecting into a nested result via a dot-path
// (e.g. "result.id"), as in a create_user.result.id reference.
type Edge struct {
	FromNodeID string
	OutputPath string // "" or "field.sub.path" within FromNodeID's output
	ToNodeID   string
	InputParam string
}

// Node is one operation invocation in the workflow.
type Node struct {
	ID         string
	Model      string
	Op         string
	StaticArgs map[string]any
}

// Error reports a workflow fault: at build time a cycle, a dangling edge or
// an invalid or duplicate node id; at run time a failed node handler, a
// missing predecessor result or a reentered async run.
type Error struct {
	NodeID string
	Msg    string
}

func (e *Error) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("workflow: %s", e.Msg)
	}
	return fmt.Sprintf("workflow: node %q: %s", e.NodeID, e.Msg)
}

// Workflow is a frozen, validated DAG ready to hand to a Runtime.
type Workflow struct {
	Label string
	nodes map[string]*Node
	edges []Edge
	order []string // topological order, computed at freeze time
}

// Builder accumulates nodes and edges before Freeze validates and orders
// them. The engine facade's create_workflow/add_node surface is a thin
// wrapper over this.
type Builder struct {
	label string
	nodes map[string]*Node
	edges []Edge
}

// NewBuilder starts a workflow labeled label.
func NewBuilder(label string) *Builder {
	return &Builder{label: label, nodes: make(map[string]*Node)}
}

// AddNode registers a node, failing if nodeID is already used or is not a
// valid identifier.
func (b *Builder) AddNode(nodeID, model, op string, staticArgs map[string]any) error {
	if !sql.IsValidIdentifier(nodeID) {
		return &Error{NodeID: nodeID, Msg: "not a valid identifier"}
	}
	if _, exists := b.nodes[nodeID]; exists {
		return &Error{NodeID: nodeID, Msg: "duplicate node id"}
	}
	b.nodes[nodeID] = &Node{ID: nodeID, Model: model, Op: op, StaticArgs: staticArgs}
	return nil
}

// Connect adds an edge wiring fromNodeID's output (optionally projected by
// outputPath) into toNodeID's inputParam.
func (b *Builder) Connect(fromNodeID, outputPath, toNodeID, inputParam string) {
	b.edges = append(b.edges, Edge{FromNodeID: fromNodeID, OutputPath: outputPath, ToNodeID: toNodeID, InputParam: inputParam})
}

// Freeze validates every edge resolves to declared nodes, detects cycles,
// and computes the topological order via Kahn's algorithm with
// lexicographic node_id tie-break, returning an immutable
// Workflow.
func (b *Builder) Freeze() (*Workflow, error) {
	for _, e := range b.edges {
		if _, ok := b.nodes[e.FromNodeID]; !ok {
			return nil, &Error{NodeID: e.FromNodeID, Msg: "edge references unknown source node"}
		}
		if _, ok := b.nodes[e.ToNodeID]; !ok {
			return nil, &Error{NodeID: e.ToNodeID, Msg: "edge references unknown target node"}
		}
	}

	indegree := make(map[string]int, len(b.nodes))
	adj := make(map[string][]string, len(b.nodes))
	for id := range b.nodes {
		indegree[id] = 0
	}
	for _, e := range b.edges {
		adj[e.FromNodeID] = append(adj[e.FromNodeID], e.ToNodeID)
		indegree[e.ToNodeID]++
	}

	var ready []string
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(b.nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		succs := append([]string(nil), adj[n]...)
		sort.Strings(succs)
		for _, s := range succs {
			indegree[s]--
			if indegree[s] == 0 {
				ready = append(ready, s)
			}
		}
	}
	if len(order) != len(b.nodes) {
		return nil, &Error{Msg: "cycle detected among workflow nodes"}
	}

	nodes := make(map[string]*Node, len(b.nodes))
	for id, n := range b.nodes {
		nodes[id] = n
	}
	return &Workflow{Label: b.label, nodes: nodes, edges: append([]Edge(nil), b.edges...), order: order}, nil
}

// Order returns the frozen topological node order.
func (w *Workflow) Order() []string { return append([]string(nil), w.order...) }

// Node returns the node registered under id, or nil.
func (w *Workflow) Node(id string) *Node { return w.nodes[id] }

// IncomingEdges returns the edges whose ToNodeID is id.
func (w *Workflow) IncomingEdges(id string) []Edge {
	var out []Edge
	for _, e := range w.edges {
		if e.ToNodeID == id {
			out = append(out, e)
		}
	}
	return out
}

// IndependentGroups partitions the frozen order into consecutive maximal
// sets of nodes with no direct or transitive dependency on one another
// within the set — the groups a Runtime may execute concurrently under
// async mode while still honoring every edge's happens-before ordering.
// It is a simple generation-based grouping: a node joins the earliest
// generation after all of its predecessors' generations.
func (w *Workflow) IndependentGroups() [][]string {
	gen := make(map[string]int, len(w.nodes))
	for _, id := range w.order {
		max := -1
		for _, e := range w.IncomingEdges(id) {
			if g := gen[e.FromNodeID]; g > max {
				max = g
			}
		}
		gen[id] = max + 1
	}
	maxGen := 0
	for _, g := range gen {
		if g > maxGen {
			maxGen = g
		}
	}
	groups := make([][]string, maxGen+1)
	for _, id := range w.order {
		g := gen[id]
		groups[g] = append(groups[g], id)
	}
	for _, g := range groups {
		sort.Strings(g)
	}
	return groups
}

// ProjectPath walks a dot-path ("result.id") into nested map[string]any
// values produced by a node's output; any other value on the path is an
// error. It mirrors how Connect's outputPath is resolved at execution time.
func ProjectPath(value any, path string) (any, error) {
	if path == "" {
		return value, nil
	}
	cur := value
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("workflow: cannot project %q: value is not a document", path)
		}
		v, ok := m[part]
		if !ok {
			return nil, fmt.Errorf("workflow: path %q: field %q not found", path, part)
		}
		cur = v
	}
	return cur, nil
}
