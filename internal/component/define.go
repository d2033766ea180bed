// Package component defines pipeline components and compiles them into descriptors.
package component

import (
	"strings"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/google/go-containerregistry/pkg/name"
)

// Define validates and returns an immutable ComponentSpec.
func Define(componentName string, inputs []domain.InputSpec, outputs []domain.OutputSpec, image string, entry domain.Entry) (domain.ComponentSpec, error) {
	componentName = strings.TrimSpace(componentName)
	if componentName == "" {
		return domain.ComponentSpec{}, domain.Errorf(domain.ErrInvalidSpec, "component name is required")
	}
	image = strings.TrimSpace(image)
	if image == "" {
		return domain.ComponentSpec{}, domain.Errorf(domain.ErrInvalidSpec, "component %q image is required", componentName)
	}
	if _, err := name.ParseReference(image); err != nil {
		return domain.ComponentSpec{}, domain.Wrap(domain.ErrInvalidSpec, err, "component %q image %q", componentName, image)
	}

	normInputs := make([]domain.InputSpec, 0, len(inputs))
	seenInputs := make(map[string]struct{}, len(inputs))
	for i, in := range inputs {
		inName := strings.TrimSpace(in.Name)
		if inName == "" {
			return domain.ComponentSpec{}, domain.Errorf(domain.ErrInvalidSpec, "component %q input[%d] name is required", componentName, i)
		}
		if _, dup := seenInputs[inName]; dup {
			return domain.ComponentSpec{}, domain.Errorf(domain.ErrInvalidSpec, "component %q declares input %q twice", componentName, inName)
		}
		seenInputs[inName] = struct{}{}
		if !in.Type.Valid() {
			return domain.ComponentSpec{}, domain.Errorf(domain.ErrInvalidSpec, "component %q input %q has unknown type %q", componentName, inName, in.Type)
		}
		if in.Type.IsArtifact() && in.Default != nil {
			return domain.ComponentSpec{}, domain.Errorf(domain.ErrInvalidSpec, "component %q artifact input %q cannot have a default", componentName, inName)
		}
		in.Name = inName
		normInputs = append(normInputs, in)
	}

	normOutputs := make([]domain.OutputSpec, 0, len(outputs))
	seenOutputs := make(map[string]struct{}, len(outputs))
	for i, out := range outputs {
		outName := strings.TrimSpace(out.Name)
		if outName == "" {
			return domain.ComponentSpec{}, domain.Errorf(domain.ErrInvalidSpec, "component %q output[%d] name is required", componentName, i)
		}
		if _, dup := seenOutputs[outName]; dup {
			return domain.ComponentSpec{}, domain.Errorf(domain.ErrInvalidSpec, "component %q declares output %q twice", componentName, outName)
		}
		seenOutputs[outName] = struct{}{}
		if !out.Type.Valid() {
			return domain.ComponentSpec{}, domain.Errorf(domain.ErrInvalidSpec, "component %q output %q has unknown type %q", componentName, outName, out.Type)
		}
		out.Name = outName
		normOutputs = append(normOutputs, out)
	}

	spec := domain.ComponentSpec{
		Name:    componentName,
		Inputs:  normInputs,
		Outputs: normOutputs,
		Image:   image,
		Entry:   entry,
	}
	return spec.Clone(), nil
}
