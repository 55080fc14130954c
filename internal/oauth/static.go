package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"toolgate/internal/models"
	"toolgate/internal/storage"
)

// StaticProvider serves one account's credential bundle provisioned
// out-of-band, for deployments without an interactive identity
// provider. The authorization leg short-circuits straight back to the
// gateway's own callback, and both exchange and refresh read the
// archived bundle, so replacing the bundle in the archive takes effect
// on the next refresh.
type StaticProvider struct {
	archive     storage.CredentialStorage
	account     string
	callbackURL string
}

func NewStaticProvider(archive storage.CredentialStorage, account, callbackURL string) *StaticProvider {
	return &StaticProvider{
		archive:     archive,
		account:     account,
		callbackURL: callbackURL,
	}
}

func (p *StaticProvider) Configured() bool {
	return p.archive != nil && p.account != ""
}

// AuthorizationURL sends the browser directly to the gateway callback;
// there is no upstream to visit. The code value is a placeholder the
// callback never inspects.
func (p *StaticProvider) AuthorizationURL(state string) string {
	u, err := url.Parse(p.callbackURL)
	if err != nil {
		return p.callbackURL
	}

	q := u.Query()
	q.Set("state", state)
	q.Set("code", "static")
	u.RawQuery = q.Encode()

	return u.String()
}

func (p *StaticProvider) Exchange(ctx context.Context, code string) (*models.Credential, error) {
	return p.load(ctx)
}

func (p *StaticProvider) Refresh(ctx context.Context, refreshToken string) (*models.Credential, error) {
	return p.load(ctx)
}

func (p *StaticProvider) load(ctx context.Context) (*models.Credential, error) {
	cred, err := p.archive.GetCredential(ctx, p.account)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: no credential bundle for account %q", ErrUpstream, p.account)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if cred.Account == "" {
		cred.Account = p.account
	}
	return cred, nil
}
