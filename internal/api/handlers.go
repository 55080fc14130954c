package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"toolgate/internal/oauth"
	"toolgate/internal/session"
)

type Server struct {
	broker     *oauth.Broker
	sessions   session.Broker
	storeCheck func(ctx context.Context) error
}

func NewServer(broker *oauth.Broker, sessions session.Broker, storeCheck func(ctx context.Context) error) *Server {
	return &Server{
		broker:     broker,
		sessions:   sessions,
		storeCheck: storeCheck,
	}
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	store := "reachable"
	code := http.StatusOK

	if s.storeCheck != nil {
		if err := s.storeCheck(r.Context()); err != nil {
			status = "degraded"
			store = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":              status,
		"store":               store,
		"upstream_configured": s.broker.UpstreamConfigured(),
	})
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// mapBrokerError translates the broker taxonomy onto HTTP statuses and
// RFC 6749 error codes.
func mapBrokerError(err error) (int, string, string) {
	switch {
	case errors.Is(err, oauth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token", "access token is invalid or expired"
	case errors.Is(err, oauth.ErrAlreadyRedeemed):
		return http.StatusBadRequest, "invalid_grant", "authorization code already redeemed"
	case errors.Is(err, oauth.ErrPKCEFailed):
		return http.StatusBadRequest, "invalid_grant", "PKCE verification failed"
	case errors.Is(err, oauth.ErrInvalidGrant):
		return http.StatusBadRequest, "invalid_grant", err.Error()
	case errors.Is(err, oauth.ErrInvalidClient):
		return http.StatusBadRequest, "invalid_client", err.Error()
	case errors.Is(err, oauth.ErrInvalidRedirectURI):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, oauth.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, oauth.ErrUpstream):
		return http.StatusBadGateway, "upstream_error", "identity provider request failed"
	case errors.Is(err, oauth.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable", "shared store unreachable"
	default:
		return http.StatusInternalServerError, "server_error", "internal error"
	}
}
