package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"toolgate/internal/models"
)

// UpstreamProvider is the identity provider the broker completes the
// handshake against. Both calls are opaque network round-trips that can
// fail or time out; the broker never retries them mid-flow because the
// upstream code is single-use.
type UpstreamProvider interface {
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (*models.Credential, error)
	Refresh(ctx context.Context, refreshToken string) (*models.Credential, error)
	Configured() bool
}

// OAuth2Provider implements UpstreamProvider over standard OAuth2
// authorization-code endpoints.
type OAuth2Provider struct {
	config      *oauth2.Config
	userInfoURL string
}

func NewOAuth2Provider(clientID, clientSecret, authURL, tokenURL, redirectURL, userInfoURL string, scopes []string) *OAuth2Provider {
	return &OAuth2Provider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
			RedirectURL: redirectURL,
			Scopes:      scopes,
		},
		userInfoURL: userInfoURL,
	}
}

func (p *OAuth2Provider) Configured() bool {
	return p.config.ClientID != "" && p.config.Endpoint.AuthURL != "" && p.config.Endpoint.TokenURL != ""
}

func (p *OAuth2Provider) AuthorizationURL(state string) string {
	// Offline access so the provider hands back a refresh token.
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (*models.Credential, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange failed: %w", ErrUpstream, err)
	}
	return p.credentialFromToken(ctx, token)
}

func (p *OAuth2Provider) Refresh(ctx context.Context, refreshToken string) (*models.Credential, error) {
	source := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: token refresh failed: %w", ErrUpstream, err)
	}
	// The provider may not echo the refresh token back on renewal.
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return p.credentialFromToken(ctx, token)
}

func (p *OAuth2Provider) credentialFromToken(ctx context.Context, token *oauth2.Token) (*models.Credential, error) {
	cred := &models.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		cred.IDToken = idToken
	}

	if p.userInfoURL != "" {
		account, err := p.fetchAccount(ctx, token)
		if err != nil {
			return nil, err
		}
		cred.Account = account
	}

	return cred, nil
}

// fetchAccount resolves the account identity behind the credential via
// the provider's userinfo endpoint.
func (p *OAuth2Provider) fetchAccount(ctx context.Context, token *oauth2.Token) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	token.SetAuthHeader(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: userinfo request failed: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: userinfo returned status %d", ErrUpstream, resp.StatusCode)
	}

	var info struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("%w: failed to decode userinfo: %w", ErrUpstream, err)
	}

	if info.Email != "" {
		return info.Email, nil
	}
	return info.Sub, nil
}
