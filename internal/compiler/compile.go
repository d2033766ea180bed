package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/graph"
	"github.com/animus-labs/mlpipe/internal/platform/fsutil"
)

// Compile encodes g. Caching is enabled on every node; submission may override it.
func Compile(g *graph.Graph) (Document, error) {
	if g == nil || !g.Validated() {
		return Document{}, domain.Errorf(domain.ErrCompilation, "graph has not been built")
	}

	w := Workflow{
		SchemaVersion: SchemaVersion,
		PipelineInfo:  PipelineInfo{Name: g.Name(), Description: g.Root().Description},
		Root:          Root{StorageRoot: g.Root().StorageRoot},
		Nodes:         make([]Node, 0),
		Edges:         make([]Edge, 0),
	}
	for _, n := range g.Nodes() {
		w.Nodes = append(w.Nodes, nodeFromGraph(g, n))
	}
	for _, e := range g.Edges() {
		edge := Edge{Upstream: e.Upstream, Downstream: e.Downstream}
		if e.Binding != nil {
			edge.Binding = &Binding{Output: e.Binding.Output, Input: e.Binding.Input}
		}
		w.Edges = append(w.Edges, edge)
	}

	doc, err := newDocument(w)
	if err != nil {
		return Document{}, domain.Wrap(domain.ErrCompilation, err, "encode pipeline %q", g.Name())
	}
	return doc, nil
}

// CompilePipeline compiles g and writes the document to packagePath. The parent
// directory must already exist.
func CompilePipeline(g *graph.Graph, packagePath string) (Document, error) {
	packagePath = strings.TrimSpace(packagePath)
	if packagePath == "" {
		return Document{}, domain.Errorf(domain.ErrCompilation, "package path is required")
	}
	doc, err := Compile(g)
	if err != nil {
		return Document{}, err
	}

	dir := filepath.Dir(packagePath)
	info, err := os.Stat(dir)
	if err != nil {
		return Document{}, domain.Wrap(domain.ErrCompilation, err, "output directory %s", dir)
	}
	if !info.IsDir() {
		return Document{}, domain.Errorf(domain.ErrCompilation, "output directory %s is not a directory", dir)
	}
	if err := fsutil.WriteFileAtomic(packagePath, doc.raw, 0o644); err != nil {
		return Document{}, domain.Wrap(domain.ErrCompilation, err, "write %s", packagePath)
	}
	return doc, nil
}

// Load reads a document written by CompilePipeline and checks that it can be submitted.
func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read workflow document: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates raw workflow bytes.
func Parse(raw []byte) (Document, error) {
	var w Workflow
	if err := decodeStrict(raw, &w); err != nil {
		return Document{}, domain.Wrap(domain.ErrInvalidSpec, err, "decode workflow document")
	}
	if err := validateWorkflow(w); err != nil {
		return Document{}, err
	}
	doc, err := newDocument(w)
	if err != nil {
		return Document{}, domain.Wrap(domain.ErrInvalidSpec, err, "encode workflow document")
	}
	return doc, nil
}

func nodeFromGraph(g *graph.Graph, n graph.Node) Node {
	spec := n.Spec
	node := Node{
		ID: string(n.ID),
		Component: Component{
			Name:        spec.Name,
			Description: spec.Description,
			Image:       spec.Image,
			Command:     spec.Entry.Command,
			Args:        spec.Entry.Args,
			Inputs:      make([]Input, 0, len(spec.Inputs)),
			Outputs:     make([]Output, 0, len(spec.Outputs)),
		},
		Arguments:      make([]Argument, 0, len(n.Arguments)),
		DependsOn:      make([]string, 0),
		CachingOptions: CachingOptions{EnableCache: true},
	}
	for _, in := range spec.Inputs {
		node.Component.Inputs = append(node.Component.Inputs, Input{
			Name:     in.Name,
			Type:     string(in.Type),
			Optional: in.Optional,
			Default:  in.Default,
		})
	}
	for _, out := range spec.Outputs {
		node.Component.Outputs = append(node.Component.Outputs, Output{Name: out.Name, Type: string(out.Type)})
	}
	for _, arg := range n.Arguments {
		node.Arguments = append(node.Arguments, Argument{Input: arg.Input, Literal: arg.Value})
	}
	for _, up := range g.Dependencies(n.ID) {
		node.DependsOn = append(node.DependsOn, string(up))
	}
	return node
}

func validateWorkflow(w Workflow) error {
	if w.SchemaVersion != SchemaVersion {
		return domain.Errorf(domain.ErrInvalidSpec, "unsupported schema version %q", w.SchemaVersion)
	}
	if strings.TrimSpace(w.PipelineInfo.Name) == "" {
		return domain.Errorf(domain.ErrInvalidSpec, "pipeline name is required")
	}
	if len(w.Nodes) == 0 {
		return domain.Errorf(domain.ErrInvalidSpec, "pipeline %q has no nodes", w.PipelineInfo.Name)
	}
	ids := make(map[string]struct{}, len(w.Nodes))
	for _, n := range w.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return domain.Errorf(domain.ErrInvalidSpec, "node id is required")
		}
		if _, dup := ids[n.ID]; dup {
			return domain.Errorf(domain.ErrInvalidSpec, "duplicate node %q", n.ID)
		}
		if strings.TrimSpace(n.Component.Image) == "" {
			return domain.Errorf(domain.ErrInvalidSpec, "node %q has no image", n.ID)
		}
		ids[n.ID] = struct{}{}
	}
	var errs []error
	for _, e := range w.Edges {
		for _, end := range []string{e.Upstream, e.Downstream} {
			if _, ok := ids[end]; !ok {
				errs = append(errs, domain.Errorf(domain.ErrUnknownNode, "%q", end))
			}
		}
	}
	return errors.Join(errs...)
}
