// Package pipelines declares the built-in pipelines.
//
// Every stage of a pipeline runs the pipeline's container image with a different
// module entry. Stage parameters come from config.Config.
package pipelines

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/animus-labs/mlpipe/internal/compiler"
	"github.com/animus-labs/mlpipe/internal/component"
	"github.com/animus-labs/mlpipe/internal/config"
	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/graph"
)

// stage is one component of a pipeline together with its literal arguments.
type stage struct {
	name    string
	desc    string
	inputs  []domain.InputSpec
	outputs []domain.OutputSpec
	args    func(cfg config.Config) []graph.NodeOption
}

type Pipeline struct {
	Name   string
	stages []stage
	wire   func(b *graph.Builder) error
}

var registry = map[string]Pipeline{}

func register(p Pipeline) {
	if _, dup := registry[p.Name]; dup {
		panic("pipelines: duplicate pipeline " + p.Name)
	}
	registry[p.Name] = p
}

// Get returns the pipeline declared under name.
func Get(name string) (Pipeline, error) {
	p, ok := registry[name]
	if !ok {
		return Pipeline{}, domain.Errorf(domain.ErrInvalidSpec, "unknown pipeline %q (known: %v)", name, Names())
	}
	return p, nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p Pipeline) Description() string {
	return "Pipeline on Vertex AI for " + p.Name
}

// Components defines every stage against the pipeline image.
func (p Pipeline) Components(cfg config.Config) ([]domain.ComponentSpec, error) {
	image, err := cfg.Image(p.Name)
	if err != nil {
		return nil, err
	}
	specs := make([]domain.ComponentSpec, 0, len(p.stages))
	for _, s := range p.stages {
		spec, err := component.Define(s.name, s.inputs, s.outputs, image, domain.Entry{
			Command: []string{"python", "-m", fmt.Sprintf("src.pipelines.%s.%s", p.Name, s.name)},
		})
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec.WithDescription(s.desc))
	}
	return specs, nil
}

// Build declares the pipeline's nodes and edges and validates the graph.
func (p Pipeline) Build(cfg config.Config) (*graph.Graph, error) {
	specs, err := p.Components(cfg)
	if err != nil {
		return nil, err
	}
	b := graph.NewBuilder(p.Name, domain.RootConfig{
		StorageRoot: cfg.PipelineRoot(p.Name),
		Description: p.Description(),
	})
	for i, spec := range specs {
		var opts []graph.NodeOption
		if p.stages[i].args != nil {
			opts = p.stages[i].args(cfg)
		}
		if _, err := b.AddNode(spec, opts...); err != nil {
			return nil, err
		}
	}
	if p.wire != nil {
		if err := p.wire(b); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// WriteComponents writes one descriptor per stage under cfg.OutputDir.
func (p Pipeline) WriteComponents(cfg config.Config) ([]string, error) {
	specs, err := p.Components(cfg)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(specs))
	for _, spec := range specs {
		path, err := component.WriteDescriptor(cfg.OutputDir, p.Name, component.Compile(spec))
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// DocumentPath is where Compile writes the workflow document.
func (p Pipeline) DocumentPath(cfg config.Config) string {
	return compiler.DocumentPath(cfg.OutputDir, p.Name)
}

// Compile builds the pipeline and writes its workflow document, creating the
// pipeline directory if needed.
func (p Pipeline) Compile(cfg config.Config) (compiler.Document, *graph.Graph, error) {
	g, err := p.Build(cfg)
	if err != nil {
		return compiler.Document{}, nil, err
	}
	path := p.DocumentPath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return compiler.Document{}, nil, domain.Wrap(domain.ErrCompilation, err, "create %s", filepath.Dir(path))
	}
	doc, err := compiler.CompilePipeline(g, path)
	if err != nil {
		return compiler.Document{}, nil, err
	}
	return doc, g, nil
}
