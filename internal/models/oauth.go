package models

import (
	"time"
)

// Client represents a registered downstream client application
type Client struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	RedirectURIs []string `json:"redirect_uris" yaml:"redirect_uris"`
}

// PendingAuthorization represents one in-flight authorization attempt,
// keyed by the broker code until the upstream provider calls back
type PendingAuthorization struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	State               string    `json:"state"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// TokenExchange records the outcome of a completed upstream handshake,
// pending single-use redemption by the client. The PKCE challenge is
// carried over from the pending authorization so redemption can verify
// the client's code_verifier.
type TokenExchange struct {
	Code                string    `json:"code"`
	AccessToken         string    `json:"access_token"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	Used                bool      `json:"used"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// TokenPair is the broker token set returned to a client on redemption
// or rotation
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}
