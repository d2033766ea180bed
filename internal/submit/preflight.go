package submit

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/animus-labs/mlpipe/internal/compiler"
	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// ImagePreflight checks that every image a document references exists in its registry.
type ImagePreflight struct {
	nameOpts   []name.Option
	remoteOpts []remote.Option
}

// NewImagePreflight returns a checker. insecure allows plain-HTTP registries.
func NewImagePreflight(insecure bool, opts ...remote.Option) *ImagePreflight {
	p := &ImagePreflight{remoteOpts: opts}
	if insecure {
		p.nameOpts = append(p.nameOpts, name.Insecure)
	}
	return p
}

// Check issues a HEAD request per distinct image, in sorted order, and fails on the
// first image that cannot be found.
func (p *ImagePreflight) Check(ctx context.Context, doc compiler.Document) error {
	for _, image := range documentImages(doc) {
		ref, err := name.ParseReference(image, p.nameOpts...)
		if err != nil {
			return domain.Wrap(domain.ErrSubmission, err, "image %q", image)
		}
		opts := append([]remote.Option{remote.WithContext(ctx)}, p.remoteOpts...)
		if _, err := remote.Head(ref, opts...); err != nil {
			var terr *transport.Error
			if errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound {
				return domain.Errorf(domain.ErrSubmission, "image %q not found in registry", image)
			}
			return domain.Wrap(domain.ErrSubmission, err, "resolve image %q", image)
		}
	}
	return nil
}

func documentImages(doc compiler.Document) []string {
	seen := map[string]struct{}{}
	var images []string
	for _, n := range doc.Workflow().Nodes {
		if _, ok := seen[n.Component.Image]; ok {
			continue
		}
		seen[n.Component.Image] = struct{}{}
		images = append(images, n.Component.Image)
	}
	sort.Strings(images)
	return images
}
