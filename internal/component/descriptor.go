package component

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/platform/fsutil"
	"gopkg.in/yaml.v3"
)

const DescriptorExt = ".yaml"

// Descriptor is the portable interface of one component.
type Descriptor struct {
	Name           string             `yaml:"name"`
	Description    string             `yaml:"description,omitempty"`
	Inputs         []DescriptorInput  `yaml:"inputs,omitempty"`
	Outputs        []DescriptorOutput `yaml:"outputs,omitempty"`
	Implementation Implementation     `yaml:"implementation"`
}

type DescriptorInput struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Optional bool   `yaml:"optional,omitempty"`
	Default  any    `yaml:"default,omitempty"`
}

type DescriptorOutput struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type Implementation struct {
	Container Container `yaml:"container"`
}

type Container struct {
	Image   string   `yaml:"image"`
	Command []string `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

// Compile encodes the full interface and image of spec. It does not run the entry.
func Compile(spec domain.ComponentSpec) Descriptor {
	desc := Descriptor{
		Name:        spec.Name,
		Description: spec.Description,
		Implementation: Implementation{Container: Container{
			Image:   spec.Image,
			Command: append([]string(nil), spec.Entry.Command...),
			Args:    append([]string(nil), spec.Entry.Args...),
		}},
	}
	for _, in := range spec.Inputs {
		desc.Inputs = append(desc.Inputs, DescriptorInput{
			Name:     in.Name,
			Type:     string(in.Type),
			Optional: in.Optional,
			Default:  in.Default,
		})
	}
	for _, out := range spec.Outputs {
		desc.Outputs = append(desc.Outputs, DescriptorOutput{
			Name: out.Name,
			Type: string(out.Type),
		})
	}
	return desc
}

// Marshal returns the YAML form of the descriptor.
func (d Descriptor) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// ParseDescriptor decodes a descriptor previously written by WriteDescriptor.
func ParseDescriptor(raw []byte) (Descriptor, error) {
	var desc Descriptor
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	if strings.TrimSpace(desc.Name) == "" {
		return Descriptor{}, fmt.Errorf("descriptor name is required")
	}
	return desc, nil
}

// DescriptorPath returns {root}/pipelines/{pipeline}/components/{component}.yaml.
func DescriptorPath(root, pipeline, componentName string) string {
	return filepath.Join(root, "pipelines", pipeline, "components", componentName+DescriptorExt)
}

// WriteDescriptor persists desc under its deterministic path and returns that path.
func WriteDescriptor(root, pipeline string, desc Descriptor) (string, error) {
	pipeline = strings.TrimSpace(pipeline)
	if pipeline == "" {
		return "", domain.Errorf(domain.ErrCompilation, "pipeline name is required")
	}
	if strings.TrimSpace(desc.Name) == "" {
		return "", domain.Errorf(domain.ErrCompilation, "descriptor name is required")
	}
	raw, err := desc.Marshal()
	if err != nil {
		return "", domain.Wrap(domain.ErrCompilation, err, "encode descriptor %q", desc.Name)
	}
	path := DescriptorPath(root, pipeline, desc.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", domain.Wrap(domain.ErrCompilation, err, "create %s", filepath.Dir(path))
	}
	if err := fsutil.WriteFileAtomic(path, raw, 0o644); err != nil {
		return "", domain.Wrap(domain.ErrCompilation, err, "write %s", path)
	}
	return path, nil
}
