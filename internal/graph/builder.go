// Package graph builds validated pipeline DAGs.
//
// A Builder collects nodes and edges in declaration order. Build validates the
// collected declarations and returns an immutable Graph:
//   - every edge endpoint was added (checked eagerly by AddEdge),
//   - the edges are acyclic,
//   - every required input is bound by a literal or by an inbound artifact binding,
//   - nodes outside the first node's connected component are reported as warnings.
//
// Artifact bindings stay symbolic. The execution backend resolves them at run time.
package graph

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/animus-labs/mlpipe/internal/domain"
)

// NodeID identifies a node within one pipeline. It equals the component name.
type NodeID string

type Argument struct {
	Input string
	Value any
}

type Node struct {
	ID        NodeID
	Spec      domain.ComponentSpec
	Arguments []Argument
}

func (n Node) clone() Node {
	out := n
	out.Spec = n.Spec.Clone()
	out.Arguments = make([]Argument, len(n.Arguments))
	for i, arg := range n.Arguments {
		out.Arguments[i] = Argument{Input: arg.Input, Value: copyLiteral(arg.Value)}
	}
	for i, in := range out.Spec.Inputs {
		out.Spec.Inputs[i].Default = copyLiteral(in.Default)
	}
	return out
}

// copyLiteral copies a value produced by detachLiteral.
func copyLiteral(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = copyLiteral(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = copyLiteral(e)
		}
		return out
	default:
		return v
	}
}

// Argument returns the literal bound to input, if any.
func (n Node) Argument(input string) (any, bool) {
	for _, arg := range n.Arguments {
		if arg.Input == input {
			return arg.Value, true
		}
	}
	return nil, false
}

type nodeOptions struct {
	args map[string]any
	dup  string
}

type NodeOption func(*nodeOptions)

// WithArgument binds a literal value to a parameter input of the node.
func WithArgument(input string, value any) NodeOption {
	return func(o *nodeOptions) {
		if _, dup := o.args[input]; dup {
			if o.dup == "" {
				o.dup = input
			}
			return
		}
		o.args[input] = value
	}
}

type Builder struct {
	name  string
	root  domain.RootConfig
	nodes []Node
	index map[NodeID]int
	edges []domain.Edge
}

func NewBuilder(name string, root domain.RootConfig) *Builder {
	return &Builder{
		name:  strings.TrimSpace(name),
		root:  root,
		index: map[NodeID]int{},
	}
}

// AddNode registers spec as a node. The node id is the component name.
func (b *Builder) AddNode(spec domain.ComponentSpec, opts ...NodeOption) (NodeID, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return "", domain.Errorf(domain.ErrInvalidSpec, "component name is required")
	}
	id := NodeID(name)
	if _, exists := b.index[id]; exists {
		return "", domain.Errorf(domain.ErrInvalidSpec, "component %q added twice to pipeline %q", name, b.name)
	}

	o := &nodeOptions{args: map[string]any{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.dup != "" {
		return "", domain.Errorf(domain.ErrInvalidSpec, "node %q binds argument %q twice", name, o.dup)
	}

	inputs := make([]string, 0, len(o.args))
	for input := range o.args {
		inputs = append(inputs, input)
	}
	sort.Strings(inputs)
	for _, input := range inputs {
		in, ok := spec.Input(input)
		if !ok {
			return "", domain.Errorf(domain.ErrInvalidSpec, "node %q has no input %q", name, input)
		}
		if in.Type.IsArtifact() {
			return "", domain.Errorf(domain.ErrInvalidSpec, "node %q artifact input %q can only be bound by an upstream output", name, input)
		}
	}

	args := make([]Argument, 0, len(o.args))
	for _, in := range spec.Inputs {
		if v, ok := o.args[in.Name]; ok {
			lit, err := detachLiteral(v)
			if err != nil {
				return "", domain.Wrap(domain.ErrInvalidSpec, err, "node %q argument %q", name, in.Name)
			}
			args = append(args, Argument{Input: in.Name, Value: lit})
		}
	}

	spec = spec.Clone()
	for i, in := range spec.Inputs {
		if in.Default == nil {
			continue
		}
		def, err := detachLiteral(in.Default)
		if err != nil {
			return "", domain.Wrap(domain.ErrInvalidSpec, err, "node %q default for input %q", name, in.Name)
		}
		spec.Inputs[i].Default = def
	}

	b.index[id] = len(b.nodes)
	b.nodes = append(b.nodes, Node{ID: id, Spec: spec, Arguments: args})
	return id, nil
}

// AddEdge declares that downstream runs after upstream. A non-nil binding also
// hands upstream's named output to downstream's named input.
func (b *Builder) AddEdge(upstream, downstream NodeID, binding *domain.Binding) error {
	upIdx, ok := b.index[upstream]
	if !ok {
		return domain.Errorf(domain.ErrUnknownNode, "%q", upstream)
	}
	downIdx, ok := b.index[downstream]
	if !ok {
		return domain.Errorf(domain.ErrUnknownNode, "%q", downstream)
	}

	edge := domain.Edge{Upstream: string(upstream), Downstream: string(downstream)}
	if binding != nil {
		if err := checkBinding(b.nodes[upIdx], b.nodes[downIdx], *binding); err != nil {
			return err
		}
		bound := *binding
		edge.Binding = &bound
	}

	for _, existing := range b.edges {
		if existing.Equal(edge) {
			return nil
		}
	}
	b.edges = append(b.edges, edge)
	return nil
}

// After declares ordering-only edges from each upstream to downstream.
func (b *Builder) After(downstream NodeID, upstreams ...NodeID) error {
	for _, up := range upstreams {
		if err := b.AddEdge(up, downstream, nil); err != nil {
			return err
		}
	}
	return nil
}

// detachLiteral returns the JSON form of v with no references back into the
// caller's value. Maps become map[string]any, slices []any, and numbers json.Number.
func detachLiteral(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func checkBinding(up, down Node, binding domain.Binding) error {
	out, ok := up.Spec.Output(binding.Output)
	if !ok {
		return domain.Errorf(domain.ErrInvalidSpec, "node %q has no output %q", up.ID, binding.Output)
	}
	in, ok := down.Spec.Input(binding.Input)
	if !ok {
		return domain.Errorf(domain.ErrInvalidSpec, "node %q has no input %q", down.ID, binding.Input)
	}
	if in.Type == out.Type || (in.Type == domain.TypeArtifact && out.Type.IsArtifact()) {
		return nil
	}
	return domain.Errorf(domain.ErrInvalidSpec, "binding %s.%s (%s) -> %s.%s (%s) has mismatched types",
		up.ID, out.Name, out.Type, down.ID, in.Name, in.Type)
}
