package submit

import (
	"bytes"
	"context"
	"strings"

	"github.com/animus-labs/mlpipe/internal/compiler"
	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/platform/objectstore"
)

// TemplateStore uploads workflow documents under the pipeline storage root so the
// backend can fetch them by URI.
type TemplateStore struct {
	store objectstore.Store
}

func NewTemplateStore(store objectstore.Store) *TemplateStore {
	return &TemplateStore{store: store}
}

// Upload writes doc to {storageRoot}/templates/{pipeline}/{sha256}.json and returns its URI.
// Identical documents map to the same object.
func (t *TemplateStore) Upload(ctx context.Context, storageRoot string, doc compiler.Document) (string, error) {
	if t == nil || t.store == nil {
		return "", domain.Errorf(domain.ErrSubmission, "template store not configured")
	}
	if strings.TrimSpace(storageRoot) == "" {
		return "", domain.Errorf(domain.ErrSubmission, "storage root is required to upload templates")
	}
	root, err := objectstore.ParseURI(storageRoot)
	if err != nil {
		return "", domain.Wrap(domain.ErrSubmission, err, "storage root")
	}
	loc := root.Join("templates", doc.PipelineName(), doc.SHA256()+".json")
	raw := doc.Bytes()
	if err := t.store.Put(ctx, loc.Bucket, loc.Key, bytes.NewReader(raw), int64(len(raw)), "application/json"); err != nil {
		return "", domain.Wrap(domain.ErrSubmission, err, "upload template %s", loc)
	}
	return loc.String(), nil
}
