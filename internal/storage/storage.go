package storage

import (
	"context"
	"errors"
	"time"

	"toolgate/internal/models"
)

// Sentinel errors shared by all store implementations. Callers need to
// tell "never existed / expired" apart from "already redeemed": the
// latter can indicate an authorization code replay.
var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrAlreadyRedeemed = errors.New("exchange already redeemed")
)

// PendingStore records in-flight authorization attempts keyed by the
// broker code.
type PendingStore interface {
	// CreatePending fails with ErrAlreadyExists if the code is taken.
	// Codes carry enough entropy that a collision indicates a bug.
	CreatePending(ctx context.Context, pending *models.PendingAuthorization, ttl time.Duration) error
	// ConsumePending reads and deletes the record atomically. A second
	// call for the same code returns ErrNotFound.
	ConsumePending(ctx context.Context, code string) (*models.PendingAuthorization, error)
}

// ExchangeStore records completed upstream handshakes pending single-use
// redemption.
type ExchangeStore interface {
	PublishExchange(ctx context.Context, exchange *models.TokenExchange, ttl time.Duration) error
	// GetExchange returns the record without consuming it. Used to
	// verify PKCE before redemption so a bad verifier does not burn
	// the code.
	GetExchange(ctx context.Context, code string) (*models.TokenExchange, error)
	// RedeemExchange atomically flips used=false to used=true and
	// returns the record. Exactly one concurrent caller succeeds; the
	// rest get ErrAlreadyRedeemed. Absent or expired codes return
	// ErrNotFound.
	RedeemExchange(ctx context.Context, code string) (*models.TokenExchange, error)
}

// InstallationStore holds completed logins keyed by broker access token,
// plus the refresh token index used for rotation.
type InstallationStore interface {
	// SaveInstallation writes the installation and, when a refresh
	// token is present, the refresh mapping as one logical unit.
	SaveInstallation(ctx context.Context, inst *models.Installation, ttl time.Duration) error
	GetInstallation(ctx context.Context, accessToken string) (*models.Installation, error)
	GetAccessTokenByRefresh(ctx context.Context, refreshToken string) (string, error)
	// ReplaceInstallation commits a rotation as one unit: the new
	// installation, the repointed refresh mapping, and the removal of
	// the old record. No failure mode leaves two live access tokens
	// behind one refresh token.
	ReplaceInstallation(ctx context.Context, newInst *models.Installation, oldAccessToken string, ttl time.Duration) error
	// DeleteInstallation removes the installation record. The refresh
	// mapping is removed only if it still points at this access token,
	// so deleting a rotated-out installation leaves the repointed
	// mapping intact.
	DeleteInstallation(ctx context.Context, accessToken string) error
}

// SessionStorage is the shared-store surface consumed by the auth broker.
type SessionStorage interface {
	PendingStore
	ExchangeStore
	InstallationStore
}

// CredentialStorage holds upstream credential bundles provisioned
// out-of-band (static single-account mode) or archived after login.
type CredentialStorage interface {
	GetCredential(ctx context.Context, account string) (*models.Credential, error)
	SaveCredential(ctx context.Context, account string, cred *models.Credential) error
	CredentialExists(ctx context.Context, account string) (bool, error)
}
