package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"toolgate/internal/models"
	"toolgate/internal/oauth"
)

// AuthorizeHandler starts the authorization flow and redirects the
// browser to the upstream provider. Errors before the client and
// redirect URI validate get a direct response; errors after that point
// go back to the client as a standard error redirect.
// GET /authorize
func (s *Server) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")

	if err := s.broker.ValidateClient(clientID, redirectURI); err != nil {
		slog.Error("Authorization request rejected", "error", err)
		status, code, desc := mapBrokerError(err)
		writeOAuthError(w, status, code, desc)
		return
	}

	upstreamURL, err := s.broker.BeginAuthorization(r.Context(), clientID, redirectURI,
		q.Get("code_challenge"),
		q.Get("code_challenge_method"),
		state,
	)
	if err != nil {
		slog.Error("Authorization request rejected", "error", err)
		_, code, desc := mapBrokerError(err)
		http.Redirect(w, r, oauth.BuildErrorRedirectURL(redirectURI, code, desc, state), http.StatusFound)
		return
	}

	http.Redirect(w, r, upstreamURL, http.StatusFound)
}

// CallbackHandler handles the redirect back from the upstream provider
// and forwards the browser to the client's redirect URI with the broker
// code.
// GET /oauth/callback
func (s *Server) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if upstreamErr := q.Get("error"); upstreamErr != "" {
		slog.Warn("Upstream provider returned an error", "error", upstreamErr, "description", q.Get("error_description"))
		redirect, err := s.broker.FailAuthorization(r.Context(), q.Get("state"), upstreamErr, q.Get("error_description"))
		if err != nil {
			status, code, desc := mapBrokerError(err)
			writeOAuthError(w, status, code, desc)
			return
		}
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}

	// The broker code rides in the state parameter of the upstream leg.
	clientRedirect, err := s.broker.CompleteUpstreamCallback(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		slog.Error("Upstream callback failed", "error", err)
		// A failed upstream exchange comes back with an error redirect
		// for the validated client; everything else answers directly.
		if clientRedirect != "" {
			http.Redirect(w, r, clientRedirect, http.StatusFound)
			return
		}
		status, code, desc := mapBrokerError(err)
		writeOAuthError(w, status, code, desc)
		return
	}

	http.Redirect(w, r, clientRedirect, http.StatusFound)
}

// TokenHandler redeems an authorization code or rotates a refresh
// token. Accepts standard form-encoded grant requests.
// POST /oauth/token
func (s *Server) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	var pair *models.TokenPair
	var err error

	switch grantType := r.PostFormValue("grant_type"); grantType {
	case "authorization_code":
		code := r.PostFormValue("code")
		verifier := r.PostFormValue("code_verifier")
		if code == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "code is required")
			return
		}
		pair, err = s.broker.RedeemCode(r.Context(), code, verifier)
	case "refresh_token":
		pair, err = s.broker.Rotate(r.Context(), r.PostFormValue("refresh_token"))
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
		return
	}

	if err != nil {
		status, code, desc := mapBrokerError(err)
		writeOAuthError(w, status, code, desc)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    pair.TokenType,
		"expires_in":    int(time.Until(pair.ExpiresAt).Seconds()),
	})
}

// RevokeHandler revokes an access token. Always succeeds for unknown
// tokens, per RFC 7009.
// POST /oauth/revoke
func (s *Server) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	if err := s.broker.Revoke(r.Context(), r.PostFormValue("token")); err != nil {
		status, code, desc := mapBrokerError(err)
		writeOAuthError(w, status, code, desc)
		return
	}

	w.WriteHeader(http.StatusOK)
}
