package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/internal/models"
)

func TestMemoryPendingCreateAndConsume(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	pending := &models.PendingAuthorization{
		Code:          "abc123",
		ClientID:      "demo-app",
		RedirectURI:   "http://localhost:3000/callback",
		CodeChallenge: "challenge",
		State:         "xyz",
		CreatedAt:     time.Now(),
	}
	require.NoError(t, m.CreatePending(ctx, pending, time.Minute))

	// Duplicate code is a hard failure, not an overwrite.
	assert.ErrorIs(t, m.CreatePending(ctx, pending, time.Minute), ErrAlreadyExists)

	got, err := m.ConsumePending(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "demo-app", got.ClientID)
	assert.Equal(t, "xyz", got.State)

	// Consume is destructive: the second read finds nothing.
	_, err = m.ConsumePending(ctx, "abc123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryPendingExpiry(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	pending := &models.PendingAuthorization{Code: "short-lived"}
	require.NoError(t, m.CreatePending(ctx, pending, 10*time.Millisecond))

	time.Sleep(20 * time.Millisecond)

	_, err := m.ConsumePending(ctx, "short-lived")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryExchangeRedeemOnce(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	exchange := &models.TokenExchange{
		Code:        "abc123",
		AccessToken: "tga_token",
	}
	require.NoError(t, m.PublishExchange(ctx, exchange, time.Minute))

	got, err := m.RedeemExchange(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "tga_token", got.AccessToken)
	assert.False(t, got.Used)

	_, err = m.RedeemExchange(ctx, "abc123")
	assert.ErrorIs(t, err, ErrAlreadyRedeemed)

	_, err = m.RedeemExchange(ctx, "never-existed")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryExchangeConcurrentRedeem(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, m.PublishExchange(ctx, &models.TokenExchange{
		Code:        "contested",
		AccessToken: "tga_token",
	}, time.Minute))

	const callers = 64
	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.RedeemExchange(ctx, "contested")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyRedeemed)
		}
	}
	assert.Equal(t, 1, successes)
}

func TestMemoryExchangeGetDoesNotConsume(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, m.PublishExchange(ctx, &models.TokenExchange{
		Code:          "abc123",
		AccessToken:   "tga_token",
		CodeChallenge: "challenge",
	}, time.Minute))

	got, err := m.GetExchange(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "challenge", got.CodeChallenge)

	// Still redeemable after a plain read.
	_, err = m.RedeemExchange(ctx, "abc123")
	assert.NoError(t, err)
}

func TestMemoryInstallationRoundTrip(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	inst := &models.Installation{
		AccessToken:  "tga_a",
		RefreshToken: "tgr_r",
		ClientID:     "demo-app",
		UserID:       "user@example.com",
		IssuedAt:     time.Now(),
	}
	require.NoError(t, m.SaveInstallation(ctx, inst, time.Minute))

	got, err := m.GetInstallation(ctx, "tga_a")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got.UserID)

	access, err := m.GetAccessTokenByRefresh(ctx, "tgr_r")
	require.NoError(t, err)
	assert.Equal(t, "tga_a", access)

	require.NoError(t, m.DeleteInstallation(ctx, "tga_a"))

	_, err = m.GetInstallation(ctx, "tga_a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetAccessTokenByRefresh(ctx, "tgr_r")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing installation is a no-op.
	assert.NoError(t, m.DeleteInstallation(ctx, "tga_a"))
}

func TestMemoryReplaceInstallation(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	old := &models.Installation{AccessToken: "tga_old", RefreshToken: "tgr_r", UserID: "user@example.com"}
	require.NoError(t, m.SaveInstallation(ctx, old, time.Minute))

	rotated := &models.Installation{AccessToken: "tga_new", RefreshToken: "tgr_r", UserID: "user@example.com"}
	require.NoError(t, m.ReplaceInstallation(ctx, rotated, "tga_old", time.Minute))

	// The old record is gone the moment the new one exists.
	_, err := m.GetInstallation(ctx, "tga_old")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := m.GetInstallation(ctx, "tga_new")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got.UserID)

	access, err := m.GetAccessTokenByRefresh(ctx, "tgr_r")
	require.NoError(t, err)
	assert.Equal(t, "tga_new", access)
}

func TestMemoryDeleteKeepsRepointedMapping(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	old := &models.Installation{AccessToken: "tga_old", RefreshToken: "tgr_r"}
	require.NoError(t, m.SaveInstallation(ctx, old, time.Minute))

	// Rotation: the new installation repoints the mapping before the
	// old record is deleted.
	rotated := &models.Installation{AccessToken: "tga_new", RefreshToken: "tgr_r"}
	require.NoError(t, m.SaveInstallation(ctx, rotated, time.Minute))

	require.NoError(t, m.DeleteInstallation(ctx, "tga_old"))

	access, err := m.GetAccessTokenByRefresh(ctx, "tgr_r")
	require.NoError(t, err)
	assert.Equal(t, "tga_new", access)
}

func TestMemoryInstallationExpiry(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	inst := &models.Installation{AccessToken: "tga_a", RefreshToken: "tgr_r"}
	require.NoError(t, m.SaveInstallation(ctx, inst, 10*time.Millisecond))

	time.Sleep(20 * time.Millisecond)

	_, err := m.GetInstallation(ctx, "tga_a")
	assert.ErrorIs(t, err, ErrNotFound)
}
