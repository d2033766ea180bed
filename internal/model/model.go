// Package model loads a trained binary classifier and scores prediction instances.
//
// A model directory holds two files written by the training stage:
//
//	model.json   {"intercept": b, "coefficients": [w1, w2, ...]}
//	schema.json  {"features": ["f1", "f2", ...]}
//
// Coefficients are aligned with the schema's feature order.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/animus-labs/mlpipe/internal/platform/objectstore"
)

const (
	ModelFile  = "model.json"
	SchemaFile = "schema.json"
)

var (
	ErrModelNotLoaded = errors.New("model not loaded")
	ErrSchemaMismatch = errors.New("schema mismatch")
)

type Schema struct {
	Features []string `json:"features"`
}

type weights struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
}

// Prediction is the score of one instance.
type Prediction struct {
	ProbabilityNegative float64 `json:"probability_negative"`
	ProbabilityPositive float64 `json:"probability_positive"`
}

// Instance is one row of feature values keyed by feature name.
type Instance map[string]any

// Model is immutable after loading and safe for concurrent use.
type Model struct {
	schema       Schema
	intercept    float64
	coefficients []float64
}

func (m *Model) Schema() Schema {
	return Schema{Features: append([]string(nil), m.schema.Features...)}
}

// Load reads model.json and schema.json from dir.
func Load(dir string) (*Model, error) {
	rawModel, err := os.ReadFile(filepath.Join(dir, ModelFile))
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	rawSchema, err := os.ReadFile(filepath.Join(dir, SchemaFile))
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(rawModel, rawSchema)
}

// LoadFromStore reads the model files under prefix in bucket.
func LoadFromStore(ctx context.Context, store objectstore.Store, bucket, prefix string) (*Model, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	rawModel, err := readObject(ctx, store, bucket, path.Join(prefix, ModelFile))
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	rawSchema, err := readObject(ctx, store, bucket, path.Join(prefix, SchemaFile))
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(rawModel, rawSchema)
}

func readObject(ctx context.Context, store objectstore.Store, bucket, key string) ([]byte, error) {
	body, _, err := store.Get(ctx, bucket, strings.TrimPrefix(key, "/"))
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Parse builds a model from the contents of model.json and schema.json.
func Parse(rawModel, rawSchema []byte) (*Model, error) {
	var w weights
	if err := decodeStrict(rawModel, &w); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	var s Schema
	if err := decodeStrict(rawSchema, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if len(s.Features) == 0 {
		return nil, errors.New("schema has no features")
	}
	seen := make(map[string]struct{}, len(s.Features))
	for _, f := range s.Features {
		if strings.TrimSpace(f) == "" {
			return nil, errors.New("schema has an empty feature name")
		}
		if _, dup := seen[f]; dup {
			return nil, fmt.Errorf("schema repeats feature %q", f)
		}
		seen[f] = struct{}{}
	}
	if len(w.Coefficients) != len(s.Features) {
		return nil, fmt.Errorf("model has %d coefficients for %d features", len(w.Coefficients), len(s.Features))
	}
	return &Model{
		schema:       Schema{Features: append([]string(nil), s.Features...)},
		intercept:    w.Intercept,
		coefficients: append([]float64(nil), w.Coefficients...),
	}, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Predict scores every instance in order. Any instance missing a schema feature,
// or carrying a non-numeric value for one, fails the whole call.
func (m *Model) Predict(instances []Instance) ([]Prediction, error) {
	if m == nil {
		return nil, ErrModelNotLoaded
	}
	rows := make([][]float64, len(instances))
	for i, inst := range instances {
		row, err := m.row(inst)
		if err != nil {
			return nil, fmt.Errorf("%w: instance %d: %v", ErrSchemaMismatch, i, err)
		}
		rows[i] = row
	}
	out := make([]Prediction, len(rows))
	for i, row := range rows {
		z := m.intercept
		for j, x := range row {
			z += m.coefficients[j] * x
		}
		p := sigmoid(z)
		out[i] = Prediction{ProbabilityNegative: 1 - p, ProbabilityPositive: p}
	}
	return out, nil
}

func (m *Model) row(inst Instance) ([]float64, error) {
	row := make([]float64, len(m.schema.Features))
	for j, name := range m.schema.Features {
		v, ok := inst[name]
		if !ok {
			return nil, fmt.Errorf("missing feature %q", name)
		}
		x, ok := numeric(v)
		if !ok {
			return nil, fmt.Errorf("feature %q is not numeric", name)
		}
		row[j] = x
	}
	return row, nil
}

func numeric(v any) (float64, bool) {
	var x float64
	switch n := v.(type) {
	case float64:
		x = n
	case float32:
		x = float64(n)
	case int:
		x = float64(n)
	case int64:
		x = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		x = f
	default:
		return 0, false
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return x, true
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
