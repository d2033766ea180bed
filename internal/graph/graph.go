package graph

import (
	"fmt"

	"github.com/animus-labs/mlpipe/internal/domain"
)

// Warning is a non-fatal validation finding.
type Warning struct {
	Node    NodeID
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("node %q: %s", w.Node, w.Message)
}

// Graph is a validated, immutable pipeline DAG. Only Builder.Build produces one.
type Graph struct {
	name      string
	root      domain.RootConfig
	nodes     []Node
	index     map[NodeID]int
	edges     []domain.Edge
	warnings  []Warning
	validated bool
}

func (g *Graph) Name() string { return g.name }

func (g *Graph) Root() domain.RootConfig { return g.root }

// Validated reports whether g came out of a successful Build.
func (g *Graph) Validated() bool { return g != nil && g.validated }

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.clone())
	}
	return out
}

func (g *Graph) Node(id NodeID) (Node, bool) {
	idx, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[idx].clone(), true
}

// Edges returns the edges in declaration order.
func (g *Graph) Edges() []domain.Edge {
	out := make([]domain.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		if e.Binding != nil {
			b := *e.Binding
			e.Binding = &b
		}
		out = append(out, e)
	}
	return out
}

// Dependencies returns the distinct upstream nodes of id in edge declaration order.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	var out []NodeID
	seen := map[string]struct{}{}
	for _, e := range g.edges {
		if e.Downstream != string(id) {
			continue
		}
		if _, ok := seen[e.Upstream]; ok {
			continue
		}
		seen[e.Upstream] = struct{}{}
		out = append(out, NodeID(e.Upstream))
	}
	return out
}

func (g *Graph) Warnings() []Warning {
	return append([]Warning(nil), g.warnings...)
}

// Build validates the declarations and returns the resulting Graph.
func (b *Builder) Build() (*Graph, error) {
	if b.name == "" {
		return nil, domain.Errorf(domain.ErrInvalidSpec, "pipeline name is required")
	}
	if len(b.nodes) == 0 {
		return nil, domain.Errorf(domain.ErrInvalidSpec, "pipeline %q has no nodes", b.name)
	}

	adj := make([][]int, len(b.nodes))
	for _, e := range b.edges {
		from, to := b.index[NodeID(e.Upstream)], b.index[NodeID(e.Downstream)]
		adj[from] = append(adj[from], to)
	}

	if err := b.detectCycle(adj); err != nil {
		return nil, err
	}
	if err := b.checkInputs(); err != nil {
		return nil, err
	}

	g := &Graph{
		name:      b.name,
		root:      b.root,
		nodes:     make([]Node, 0, len(b.nodes)),
		index:     make(map[NodeID]int, len(b.nodes)),
		edges:     make([]domain.Edge, 0, len(b.edges)),
		warnings:  b.connectivityWarnings(),
		validated: true,
	}
	for i, n := range b.nodes {
		g.nodes = append(g.nodes, n.clone())
		g.index[n.ID] = i
	}
	for _, e := range b.edges {
		if e.Binding != nil {
			bound := *e.Binding
			e.Binding = &bound
		}
		g.edges = append(g.edges, e)
	}
	return g, nil
}

// detectCycle runs a depth-first traversal in declaration order. Revisiting a node
// that is still in progress means the node lies on a cycle.
func (b *Builder) detectCycle(adj [][]int) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make([]int, len(b.nodes))
	var stack []int

	var visit func(int) error
	visit = func(node int) error {
		state[node] = visiting
		stack = append(stack, node)
		for _, next := range adj[node] {
			switch state[next] {
			case visiting:
				return b.cycleError(stack, next)
			case unvisited:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
		return nil
	}

	for node := range b.nodes {
		if state[node] == unvisited {
			if err := visit(node); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Builder) cycleError(stack []int, revisited int) error {
	start := 0
	for i, n := range stack {
		if n == revisited {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, n := range stack[start:] {
		path = append(path, string(b.nodes[n].ID))
	}
	path = append(path, string(b.nodes[revisited].ID))
	return &domain.CycleError{Node: string(b.nodes[revisited].ID), Path: path}
}

func (b *Builder) checkInputs() error {
	bound := make(map[NodeID]map[string]int, len(b.nodes))
	for _, e := range b.edges {
		if e.Binding == nil {
			continue
		}
		down := NodeID(e.Downstream)
		if bound[down] == nil {
			bound[down] = map[string]int{}
		}
		bound[down][e.Binding.Input]++
	}

	for _, n := range b.nodes {
		for _, in := range n.Spec.Inputs {
			edges := bound[n.ID][in.Name]
			_, literal := n.Argument(in.Name)
			switch {
			case edges > 1:
				return domain.Errorf(domain.ErrInvalidSpec, "node %q input %q is bound by %d upstream outputs", n.ID, in.Name, edges)
			case edges == 1 && literal:
				return domain.Errorf(domain.ErrInvalidSpec, "node %q input %q is bound by both a literal and an upstream output", n.ID, in.Name)
			case edges == 0 && !literal && in.Required():
				return &domain.UnboundInputError{Node: string(n.ID), Input: in.Name}
			}
		}
	}
	return nil
}

// connectivityWarnings reports nodes outside the first declared node's weakly
// connected component.
func (b *Builder) connectivityWarnings() []Warning {
	if len(b.nodes) < 2 {
		return nil
	}
	neighbors := make([][]int, len(b.nodes))
	for _, e := range b.edges {
		from, to := b.index[NodeID(e.Upstream)], b.index[NodeID(e.Downstream)]
		neighbors[from] = append(neighbors[from], to)
		neighbors[to] = append(neighbors[to], from)
	}

	reached := make([]bool, len(b.nodes))
	reached[0] = true
	queue := []int{0}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range neighbors[n] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	var warnings []Warning
	for i, ok := range reached {
		if ok {
			continue
		}
		warnings = append(warnings, Warning{
			Node:    b.nodes[i].ID,
			Message: fmt.Sprintf("not connected to %q", b.nodes[0].ID),
		})
	}
	return warnings
}
