// Package compiler serializes validated pipeline graphs into workflow documents.
//
// A workflow document is canonical JSON: nodes and edges appear in declaration order,
// literal arguments in input declaration order, and any map inside a literal is
// encoded with sorted keys. The same graph always yields the same bytes.
package compiler

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
)

const SchemaVersion = "mlpipe.workflow/v1"

// Workflow is the decoded form of a workflow document.
type Workflow struct {
	SchemaVersion string       `json:"schemaVersion"`
	PipelineInfo  PipelineInfo `json:"pipelineInfo"`
	Root          Root         `json:"root"`
	Nodes         []Node       `json:"nodes"`
	Edges         []Edge       `json:"edges"`
}

type PipelineInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Root struct {
	StorageRoot string `json:"storageRoot,omitempty"`
}

type Node struct {
	ID             string         `json:"id"`
	Component      Component      `json:"component"`
	Arguments      []Argument     `json:"arguments"`
	DependsOn      []string       `json:"dependsOn"`
	CachingOptions CachingOptions `json:"cachingOptions"`
}

type Component struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Image       string   `json:"image"`
	Command     []string `json:"command,omitempty"`
	Args        []string `json:"args,omitempty"`
	Inputs      []Input  `json:"inputs"`
	Outputs     []Output `json:"outputs"`
}

type Input struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
	Default  any    `json:"default,omitempty"`
}

type Output struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Argument struct {
	Input   string `json:"input"`
	Literal any    `json:"literal"`
}

type CachingOptions struct {
	EnableCache bool `json:"enableCache"`
}

type Edge struct {
	Upstream   string   `json:"upstream"`
	Downstream string   `json:"downstream"`
	Binding    *Binding `json:"binding,omitempty"`
}

type Binding struct {
	Output string `json:"output"`
	Input  string `json:"input"`
}

// Document is an encoded workflow together with its digest.
type Document struct {
	raw      []byte
	sha      string
	workflow Workflow
}

// Bytes returns a copy of the encoded document.
func (d Document) Bytes() []byte {
	return append([]byte(nil), d.raw...)
}

// SHA256 returns the hex digest of Bytes.
func (d Document) SHA256() string { return d.sha }

func (d Document) PipelineName() string { return d.workflow.PipelineInfo.Name }

func (d Document) StorageRoot() string { return d.workflow.Root.StorageRoot }

// Workflow returns the decoded form. Slices are shared with d and must not be modified.
func (d Document) Workflow() Workflow { return d.workflow }

// CachingEnabled reports whether every node has caching turned on.
func (d Document) CachingEnabled() bool {
	if len(d.workflow.Nodes) == 0 {
		return false
	}
	for _, n := range d.workflow.Nodes {
		if !n.CachingOptions.EnableCache {
			return false
		}
	}
	return true
}

// WithCaching returns a re-encoded copy of d whose every node carries the given
// caching option. d itself is unchanged.
func (d Document) WithCaching(enabled bool) (Document, error) {
	w := d.workflow
	w.Nodes = make([]Node, len(d.workflow.Nodes))
	copy(w.Nodes, d.workflow.Nodes)
	for i := range w.Nodes {
		w.Nodes[i].CachingOptions.EnableCache = enabled
	}
	return newDocument(w)
}

// DocumentPath returns {root}/pipelines/{pipeline}/{pipeline}_pipeline.json.
func DocumentPath(root, pipeline string) string {
	return filepath.Join(root, "pipelines", pipeline, pipeline+"_pipeline.json")
}

func newDocument(w Workflow) (Document, error) {
	raw, err := encode(w)
	if err != nil {
		return Document{}, err
	}
	sum := sha256.Sum256(raw)
	return Document{raw: raw, sha: hex.EncodeToString(sum[:]), workflow: w}, nil
}

func encode(w Workflow) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeStrict(raw []byte, w *Workflow) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(w); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after workflow document")
	}
	return nil
}
