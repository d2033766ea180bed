// Package session binds credentials, project and region for talking to the
// pipeline execution backend.
package session

import (
	"context"
	"net/http"
	"strings"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/platform/env"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const DefaultScope = "https://www.googleapis.com/auth/cloud-platform"

type Config struct {
	ProjectID   string
	Region      string
	StorageRoot string
	Scopes      []string
}

func ConfigFromEnv() Config {
	return Config{
		ProjectID: env.String("PROJECT_ID", ""),
		Region:    env.String("REGION", ""),
		Scopes:    env.Strings("MLPIPE_OAUTH_SCOPES", []string{DefaultScope}),
	}
}

func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ProjectID) == "" {
		missing = append(missing, "project id")
	}
	if strings.TrimSpace(c.Region) == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		return &domain.MissingConfigError{Keys: missing}
	}
	return nil
}

// Handle is an authenticated session. It is safe for concurrent use.
type Handle struct {
	cfg    Config
	tokens oauth2.TokenSource
}

// Authenticate discovers Application Default Credentials and proves them by
// minting a token.
func Authenticate(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}
	creds, err := google.FindDefaultCredentials(ctx, scopes...)
	if err != nil {
		return nil, domain.Wrap(domain.ErrAuthentication, err, "find default credentials")
	}
	h, err := New(cfg, creds.TokenSource)
	if err != nil {
		return nil, err
	}
	if _, err := h.tokens.Token(); err != nil {
		return nil, domain.Wrap(domain.ErrAuthentication, err, "mint access token")
	}
	return h, nil
}

// New binds an explicit token source. The source is wrapped so tokens are reused
// until they expire.
func New(cfg Config, tokens oauth2.TokenSource) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, domain.Errorf(domain.ErrAuthentication, "token source is required")
	}
	cfg.ProjectID = strings.TrimSpace(cfg.ProjectID)
	cfg.Region = strings.TrimSpace(cfg.Region)
	cfg.Scopes = append([]string(nil), cfg.Scopes...)
	return &Handle{cfg: cfg, tokens: oauth2.ReuseTokenSource(nil, tokens)}, nil
}

func (h *Handle) ProjectID() string { return h.cfg.ProjectID }

func (h *Handle) Region() string { return h.cfg.Region }

func (h *Handle) StorageRoot() string { return h.cfg.StorageRoot }

// Check fails with ErrSessionExpired when no valid token can be obtained.
func (h *Handle) Check(ctx context.Context) error {
	if h == nil || h.tokens == nil {
		return domain.Errorf(domain.ErrSessionExpired, "no session")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tok, err := h.tokens.Token()
	if err != nil {
		return domain.Wrap(domain.ErrSessionExpired, err, "refresh token")
	}
	if !tok.Valid() {
		return domain.Errorf(domain.ErrSessionExpired, "token expired")
	}
	return nil
}

// HTTPClient returns a client that authorizes every request with the session token.
func (h *Handle) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, h.tokens)
}

// Token returns the current access token.
func (h *Handle) Token() (*oauth2.Token, error) {
	tok, err := h.tokens.Token()
	if err != nil {
		return nil, domain.Wrap(domain.ErrSessionExpired, err, "refresh token")
	}
	return tok, nil
}
