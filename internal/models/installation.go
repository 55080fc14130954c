package models

import (
	"time"
)

// Credential is the upstream identity provider's credential bundle for
// one account
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Account      string    `json:"account"`
}

// Expired reports whether the upstream access token is past (or within
// skew of) its expiry and needs a refresh before use.
func (c *Credential) Expired(skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(skew).After(c.ExpiresAt)
}

// Installation is the durable record of one completed login, keyed by
// the broker access token
type Installation struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	Credential   Credential `json:"credential"`
	ClientID     string     `json:"client_id"`
	UserID       string     `json:"user_id"`
	IssuedAt     time.Time  `json:"issued_at"`
}
