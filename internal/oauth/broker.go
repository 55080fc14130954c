package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"toolgate/internal/models"
	"toolgate/internal/storage"
)

// Broker runs the three-party handshake: it accepts an authorization
// request from a downstream client, completes the code exchange with
// the upstream provider, and issues its own token pair that the client
// redeems exactly once.
type Broker struct {
	store    storage.SessionStorage
	provider UpstreamProvider
	clients  *ClientRegistry
	archive  storage.CredentialStorage

	pendingTTL      time.Duration
	exchangeTTL     time.Duration
	installationTTL time.Duration
}

type BrokerOptions struct {
	// PendingTTL and ExchangeTTL bound the human-interaction window of
	// a login attempt. InstallationTTL is the maximum session lifetime
	// and must be long enough that live sessions are not silently
	// logged out; it is refreshed on rotation.
	PendingTTL      time.Duration
	ExchangeTTL     time.Duration
	InstallationTTL time.Duration

	// Archive, if set, receives a copy of each completed login's
	// upstream credential bundle. Best effort.
	Archive storage.CredentialStorage
}

func NewBroker(store storage.SessionStorage, provider UpstreamProvider, clients *ClientRegistry, opts BrokerOptions) *Broker {
	if opts.PendingTTL == 0 {
		opts.PendingTTL = 10 * time.Minute
	}
	if opts.ExchangeTTL == 0 {
		opts.ExchangeTTL = 10 * time.Minute
	}
	if opts.InstallationTTL == 0 {
		opts.InstallationTTL = 30 * 24 * time.Hour
	}
	return &Broker{
		store:           store,
		provider:        provider,
		clients:         clients,
		archive:         opts.Archive,
		pendingTTL:      opts.PendingTTL,
		exchangeTTL:     opts.ExchangeTTL,
		installationTTL: opts.InstallationTTL,
	}
}

// UpstreamConfigured reports whether the upstream provider is usable,
// for the health surface.
func (b *Broker) UpstreamConfigured() bool {
	return b.provider.Configured()
}

// Verify resolves a presented bearer token to its installation. A
// missing record is an invalid token; an unreachable store fails closed.
func (b *Broker) Verify(ctx context.Context, accessToken string) (*models.Installation, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}

	inst, err := b.store.GetInstallation(ctx, accessToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return inst, nil
}

// ValidateClient checks that a client may start an authorization flow
// with the given redirect URI. Handlers call this before anything is
// redirected to that URI; failures here must never be sent to it.
func (b *Broker) ValidateClient(clientID, redirectURI string) error {
	_, err := b.clients.Validate(clientID, redirectURI)
	return err
}

// BeginAuthorization validates the request, records the attempt under a
// fresh broker code, and returns the upstream authorization URL. The
// broker code doubles as the state parameter sent upstream, which is
// how the callback finds its pending record.
func (b *Broker) BeginAuthorization(ctx context.Context, clientID, redirectURI, codeChallenge, codeChallengeMethod, state string) (string, error) {
	// State is required for CSRF protection on the client's side of
	// the redirect.
	if state == "" {
		return "", fmt.Errorf("%w: state parameter is required", ErrInvalidRequest)
	}

	if _, err := b.clients.Validate(clientID, redirectURI); err != nil {
		return "", err
	}

	if err := ValidateCodeChallenge(codeChallenge, codeChallengeMethod); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	code := NewBrokerCode()
	pending := &models.PendingAuthorization{
		Code:                code,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		State:               state,
		CreatedAt:           time.Now(),
		ExpiresAt:           time.Now().Add(b.pendingTTL),
	}

	if err := b.store.CreatePending(ctx, pending, b.pendingTTL); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	slog.Info("Authorization flow started", "client_id", clientID)
	return b.provider.AuthorizationURL(code), nil
}

// CompleteUpstreamCallback handles the redirect back from the upstream
// provider. It consumes the pending record (so a replayed callback
// finds nothing), exchanges the upstream code, mints broker tokens, and
// publishes the token exchange for the client to redeem. The
// installation is written before the exchange record: a published code
// must always redeem to a live installation, while a crash in between
// leaves only an unreferenced installation that expires on its own.
// When the upstream exchange itself fails, the error is returned along
// with an error redirect to the client's validated redirect URI.
func (b *Broker) CompleteUpstreamCallback(ctx context.Context, brokerCode, upstreamCode string) (string, error) {
	if brokerCode == "" || upstreamCode == "" {
		return "", fmt.Errorf("%w: missing state or code", ErrInvalidRequest)
	}

	pending, err := b.store.ConsumePending(ctx, brokerCode)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown or expired authorization attempt", ErrInvalidGrant)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	cred, err := b.provider.Exchange(ctx, upstreamCode)
	if err != nil {
		// The pending record is already consumed and the upstream code
		// is single-use, so the flow cannot be resumed. The client has
		// to start over; hand the error back to its redirect URI.
		slog.Error("Upstream code exchange failed", "client_id", pending.ClientID, "error", err)
		return BuildErrorRedirectURL(pending.RedirectURI, "upstream_error", "code exchange failed", pending.State), err
	}

	accessToken := NewAccessToken()
	refreshToken := NewRefreshToken()

	inst := &models.Installation{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Credential:   *cred,
		ClientID:     pending.ClientID,
		UserID:       cred.Account,
		IssuedAt:     time.Now(),
	}
	if err := b.store.SaveInstallation(ctx, inst, b.installationTTL); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	exchange := &models.TokenExchange{
		Code:                brokerCode,
		AccessToken:         accessToken,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		Used:                false,
		ExpiresAt:           time.Now().Add(b.exchangeTTL),
	}
	if err := b.store.PublishExchange(ctx, exchange, b.exchangeTTL); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if b.archive != nil && cred.Account != "" {
		if err := b.archive.SaveCredential(ctx, cred.Account, cred); err != nil {
			slog.Warn("Failed to archive credential bundle", "account", cred.Account, "error", err)
		}
	}

	slog.Info("Upstream handshake completed", "client_id", pending.ClientID, "account", cred.Account)
	return BuildRedirectURL(pending.RedirectURI, brokerCode, pending.State), nil
}

// FailAuthorization aborts an in-flight attempt after the upstream
// provider reported an error, returning the client redirect carrying
// the error and state. The pending record is consumed, so the aborted
// attempt cannot be completed or replayed afterwards.
func (b *Broker) FailAuthorization(ctx context.Context, brokerCode, errorCode, description string) (string, error) {
	pending, err := b.store.ConsumePending(ctx, brokerCode)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown or expired authorization attempt", ErrInvalidGrant)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	slog.Warn("Authorization attempt failed upstream", "client_id", pending.ClientID, "error_code", errorCode)
	return BuildErrorRedirectURL(pending.RedirectURI, errorCode, description, pending.State), nil
}

// RedeemCode exchanges a broker code for the token pair. PKCE is
// verified before redemption so a wrong verifier does not burn the
// code; the redemption itself is atomic, so concurrent attempts yield
// exactly one winner.
func (b *Broker) RedeemCode(ctx context.Context, brokerCode, codeVerifier string) (*models.TokenPair, error) {
	exchange, err := b.store.GetExchange(ctx, brokerCode)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown or expired authorization code", ErrInvalidGrant)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if err := VerifyCodeChallenge(codeVerifier, exchange.CodeChallenge, exchange.CodeChallengeMethod); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPKCEFailed, err)
	}

	redeemed, err := b.store.RedeemExchange(ctx, brokerCode)
	if errors.Is(err, storage.ErrAlreadyRedeemed) {
		// A second redemption of a valid code is the signature of a
		// stolen code being replayed. Log it distinctly.
		slog.Warn("Authorization code replay detected", "code_prefix", prefix(brokerCode))
		return nil, ErrAlreadyRedeemed
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown or expired authorization code", ErrInvalidGrant)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	inst, err := b.store.GetInstallation(ctx, redeemed.AccessToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: installation expired before redemption", ErrInvalidGrant)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	slog.Info("Authorization code redeemed", "client_id", inst.ClientID, "user_id", inst.UserID)
	return &models.TokenPair{
		AccessToken:  inst.AccessToken,
		RefreshToken: inst.RefreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    inst.IssuedAt.Add(b.installationTTL),
	}, nil
}

// Rotate issues a new access token for a refresh token, refreshing the
// upstream credential when it is near expiry. The new installation, the
// repointed refresh mapping, and the old record's removal commit as a
// single store operation, so no failure mode leaves two live access
// tokens behind one refresh token, and at no point does the refresh
// token map to zero installations.
func (b *Broker) Rotate(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh_token is required", ErrInvalidRequest)
	}

	oldAccessToken, err := b.store.GetAccessTokenByRefresh(ctx, refreshToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown refresh token", ErrInvalidGrant)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	inst, err := b.store.GetInstallation(ctx, oldAccessToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: refresh token points at an expired installation", ErrInvalidGrant)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	cred := inst.Credential
	if cred.Expired(2 * time.Minute) {
		if cred.RefreshToken == "" {
			return nil, fmt.Errorf("%w: upstream credential expired and not refreshable", ErrInvalidGrant)
		}
		fresh, err := b.provider.Refresh(ctx, cred.RefreshToken)
		if err != nil {
			slog.Error("Upstream credential refresh failed", "user_id", inst.UserID, "error", err)
			return nil, err
		}
		cred = *fresh
	}

	newAccessToken := NewAccessToken()
	newInst := &models.Installation{
		AccessToken:  newAccessToken,
		RefreshToken: refreshToken,
		Credential:   cred,
		ClientID:     inst.ClientID,
		UserID:       inst.UserID,
		IssuedAt:     time.Now(),
	}
	if err := b.store.ReplaceInstallation(ctx, newInst, oldAccessToken, b.installationTTL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	slog.Info("Access token rotated", "client_id", inst.ClientID, "user_id", inst.UserID)
	return &models.TokenPair{
		AccessToken:  newAccessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    newInst.IssuedAt.Add(b.installationTTL),
	}, nil
}

// Revoke deletes the installation behind an access token. Revoking an
// unknown token is not an error, per RFC 7009.
func (b *Broker) Revoke(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	if err := b.store.DeleteInstallation(ctx, accessToken); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// BuildRedirectURL builds the client callback URL with code and state
func BuildRedirectURL(redirectURI, code, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI // fallback
	}

	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// BuildErrorRedirectURL builds a client callback URL with error information
func BuildErrorRedirectURL(redirectURI, errorCode, errorDescription, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI // fallback
	}

	q := u.Query()
	q.Set("error", errorCode)
	if errorDescription != "" {
		q.Set("error_description", errorDescription)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func prefix(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
