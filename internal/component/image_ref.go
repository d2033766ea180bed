package component

import (
	"fmt"
	"strings"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/google/go-containerregistry/pkg/name"
)

const defaultImageTag = "latest"

// ImageConfig carries the environment-scoped values an image reference is derived from.
type ImageConfig struct {
	ProjectID  string
	Region     string
	Repository string
	Pipeline   string
	Tag        string
}

// ImageRef returns {region}-docker.pkg.dev/{project}/{repository}/{pipeline}:{tag}.
// Every absent value is reported; nothing is guessed.
func ImageRef(cfg ImageConfig) (string, error) {
	var missing []string
	if strings.TrimSpace(cfg.ProjectID) == "" {
		missing = append(missing, "project id")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		missing = append(missing, "region")
	}
	if strings.TrimSpace(cfg.Repository) == "" {
		missing = append(missing, "repository id")
	}
	if strings.TrimSpace(cfg.Pipeline) == "" {
		missing = append(missing, "pipeline name")
	}
	if len(missing) > 0 {
		return "", &domain.MissingConfigError{Keys: missing}
	}

	tag := strings.TrimSpace(cfg.Tag)
	if tag == "" {
		tag = defaultImageTag
	}
	ref := fmt.Sprintf("%s-docker.pkg.dev/%s/%s/%s:%s",
		strings.TrimSpace(cfg.Region),
		strings.TrimSpace(cfg.ProjectID),
		strings.TrimSpace(cfg.Repository),
		strings.TrimSpace(cfg.Pipeline),
		tag,
	)
	if _, err := name.NewTag(ref); err != nil {
		return "", domain.Wrap(domain.ErrInvalidSpec, err, "image reference %q", ref)
	}
	return ref, nil
}
