// Package config loads the pipeline configuration shared by every mlpipe command.
//
// Values come from an optional YAML file (MLPIPE_CONFIG) overlaid by environment
// variables. The merged map is decoded into Config, so unknown keys in the file are
// reported instead of silently ignored.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/animus-labs/mlpipe/internal/component"
	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/platform/env"
	"github.com/animus-labs/mlpipe/internal/session"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Data layers the built-in pipelines read from.
const (
	LayerRaw        = "01_raw"
	LayerPrimary    = "03_primary"
	LayerProcessing = "04_processing"
	LayerFeatures   = "05_features"
	LayerScoring    = "06_scoring"
)

var DataLayers = []string{LayerRaw, LayerPrimary, LayerProcessing, LayerFeatures, LayerScoring}

type Config struct {
	ProjectID  string `mapstructure:"project_id" yaml:"project_id"`
	Region     string `mapstructure:"region" yaml:"region"`
	Repository string `mapstructure:"repository_id" yaml:"repository_id"`
	Bucket     string `mapstructure:"bucket_name" yaml:"bucket_name"`
	ImageTag   string `mapstructure:"image_tag" yaml:"image_tag"`
	// OutputDir is where pipelines/{name}/... files are written.
	OutputDir string            `mapstructure:"output_dir" yaml:"output_dir"`
	Layers    map[string]string `mapstructure:"layers" yaml:"layers"`

	ImagePreflight bool `mapstructure:"image_preflight" yaml:"image_preflight"`
	UniqueRunIDs   bool `mapstructure:"unique_run_ids" yaml:"unique_run_ids"`
	UploadTemplate bool `mapstructure:"upload_template" yaml:"upload_template"`
}

// envKeys maps environment variables onto config keys.
var envKeys = []struct {
	env string
	key string
}{
	{"PROJECT_ID", "project_id"},
	{"REGION", "region"},
	{"REPOSITORY_ID", "repository_id"},
	{"BUCKET_NAME", "bucket_name"},
	{"IMAGE_TAG", "image_tag"},
	{"MLPIPE_OUTPUT_DIR", "output_dir"},
	{"MLPIPE_IMAGE_PREFLIGHT", "image_preflight"},
	{"MLPIPE_UNIQUE_RUN_IDS", "unique_run_ids"},
	{"MLPIPE_UPLOAD_TEMPLATE", "upload_template"},
}

// FromEnv loads the file named by MLPIPE_CONFIG, if any, then applies the environment.
func FromEnv() (Config, error) {
	return Load(env.String("MLPIPE_CONFIG", ""))
}

// Load reads path (may be empty), overlays the environment and validates the result.
func Load(path string) (Config, error) {
	raw := map[string]any{}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}
	for _, k := range envKeys {
		if v := env.String(k.env, ""); v != "" {
			raw[k.key] = v
		}
	}
	layers, _ := raw["layers"].(map[string]any)
	for _, layer := range DataLayers {
		if v := env.String("LAYER_"+strings.ToUpper(layer), ""); v != "" {
			if layers == nil {
				layers = map[string]any{}
			}
			layers[layer] = v
		}
	}
	if layers != nil {
		raw["layers"] = layers
	}

	cfg, err := decode(raw)
	if err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(raw map[string]any) (Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.ProjectID = strings.TrimSpace(c.ProjectID)
	c.Region = strings.TrimSpace(c.Region)
	c.Repository = strings.TrimSpace(c.Repository)
	c.Bucket = strings.TrimSpace(c.Bucket)
	if strings.TrimSpace(c.ImageTag) == "" {
		c.ImageTag = "latest"
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		c.OutputDir = "."
	}
	if c.Layers == nil {
		c.Layers = map[string]string{}
	}
}

// Validate reports every missing required value at once.
func (c Config) Validate() error {
	var missing []string
	for _, req := range []struct {
		name  string
		value string
	}{
		{"PROJECT_ID", c.ProjectID},
		{"REGION", c.Region},
		{"REPOSITORY_ID", c.Repository},
		{"BUCKET_NAME", c.Bucket},
	} {
		if strings.TrimSpace(req.value) == "" {
			missing = append(missing, req.name)
		}
	}
	if len(missing) > 0 {
		return &domain.MissingConfigError{Keys: missing}
	}

	var unknown []string
	for layer := range c.Layers {
		if !knownLayer(layer) {
			unknown = append(unknown, layer)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.New("unknown data layers: " + strings.Join(unknown, ", "))
	}
	return nil
}

// PipelineRoot returns gs://{bucket}/{pipeline}/run/.
func (c Config) PipelineRoot(pipeline string) string {
	return fmt.Sprintf("gs://%s/%s/run/", c.Bucket, pipeline)
}

// Image returns the container image every component of pipeline runs.
func (c Config) Image(pipeline string) (string, error) {
	return component.ImageRef(component.ImageConfig{
		ProjectID:  c.ProjectID,
		Region:     c.Region,
		Repository: c.Repository,
		Pipeline:   pipeline,
		Tag:        c.ImageTag,
	})
}

// Layer returns the storage path of a data layer, defaulting to gs://{bucket}/data/{layer}/.
func (c Config) Layer(layer string) string {
	if v := strings.TrimSpace(c.Layers[layer]); v != "" {
		return v
	}
	return fmt.Sprintf("gs://%s/data/%s/", c.Bucket, layer)
}

// Session returns the execution session settings for pipeline.
func (c Config) Session(pipeline string) session.Config {
	cfg := session.ConfigFromEnv()
	cfg.ProjectID = c.ProjectID
	cfg.Region = c.Region
	cfg.StorageRoot = c.PipelineRoot(pipeline)
	return cfg
}

// Values returns the settings handed to components as their pipeline_config argument.
func (c Config) Values() map[string]any {
	layers := map[string]any{}
	for _, layer := range DataLayers {
		layers[layer] = c.Layer(layer)
	}
	return map[string]any{
		"project_id":    c.ProjectID,
		"region":        c.Region,
		"repository_id": c.Repository,
		"bucket_name":   c.Bucket,
		"layers":        layers,
	}
}

func knownLayer(layer string) bool {
	for _, l := range DataLayers {
		if l == layer {
			return true
		}
	}
	return false
}
