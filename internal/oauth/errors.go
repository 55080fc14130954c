package oauth

import (
	"errors"
)

// Error taxonomy surfaced to the request pipeline. Handlers map these
// onto RFC 6749 error codes; protocol-state failures stay distinguishable
// so a replayed code ("already redeemed") is never reported as a code
// that never existed.
var (
	ErrInvalidToken       = errors.New("invalid_token")
	ErrInvalidGrant       = errors.New("invalid_grant")
	ErrAlreadyRedeemed    = errors.New("invalid_grant: authorization code already redeemed")
	ErrInvalidClient      = errors.New("invalid_client")
	ErrInvalidRedirectURI = errors.New("invalid_redirect_uri")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrPKCEFailed         = errors.New("invalid_grant: PKCE verification failed")
	ErrUpstream           = errors.New("upstream_error")
	ErrUnavailable        = errors.New("unavailable")
)
