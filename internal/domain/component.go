package domain

// ValueType is the semantic type of a component input or output.
type ValueType string

const (
	TypeString  ValueType = "String"
	TypeInteger ValueType = "Integer"
	TypeFloat   ValueType = "Float"
	TypeBoolean ValueType = "Boolean"
	TypeList    ValueType = "List"
	TypeStruct  ValueType = "Struct"

	TypeDataset  ValueType = "Dataset"
	TypeModel    ValueType = "Model"
	TypeMetrics  ValueType = "Metrics"
	TypeArtifact ValueType = "Artifact"
)

func (t ValueType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeList, TypeStruct,
		TypeDataset, TypeModel, TypeMetrics, TypeArtifact:
		return true
	default:
		return false
	}
}

// IsArtifact reports whether values of this type travel as artifacts rather than parameters.
func (t ValueType) IsArtifact() bool {
	switch t {
	case TypeDataset, TypeModel, TypeMetrics, TypeArtifact:
		return true
	default:
		return false
	}
}

// ComponentSpec describes one containerized unit of pipeline work.
type ComponentSpec struct {
	Name        string
	Description string
	Inputs      []InputSpec
	Outputs     []OutputSpec
	Image       string
	Entry       Entry
}

type InputSpec struct {
	Name     string
	Type     ValueType
	Optional bool
	Default  any
}

// Required reports whether the input must be bound by a literal or an inbound edge.
func (i InputSpec) Required() bool {
	return !i.Optional && i.Default == nil
}

type OutputSpec struct {
	Name string
	Type ValueType
}

// Entry is what the container runs. It is recorded, never executed locally.
type Entry struct {
	Command []string
	Args    []string
}

func (c ComponentSpec) Input(name string) (InputSpec, bool) {
	for _, in := range c.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputSpec{}, false
}

func (c ComponentSpec) Output(name string) (OutputSpec, bool) {
	for _, out := range c.Outputs {
		if out.Name == name {
			return out, true
		}
	}
	return OutputSpec{}, false
}

// WithDescription returns a copy of c carrying the given description.
func (c ComponentSpec) WithDescription(description string) ComponentSpec {
	out := c.Clone()
	out.Description = description
	return out
}

// Clone returns a copy that shares no slices with c.
func (c ComponentSpec) Clone() ComponentSpec {
	out := c
	out.Inputs = append([]InputSpec(nil), c.Inputs...)
	out.Outputs = append([]OutputSpec(nil), c.Outputs...)
	out.Entry = Entry{
		Command: append([]string(nil), c.Entry.Command...),
		Args:    append([]string(nil), c.Entry.Args...),
	}
	return out
}
