package storage

import (
	"context"
	"sync"
	"time"

	"toolgate/internal/models"
)

type MemoryStorage struct {
	pending       map[string]*models.PendingAuthorization
	exchanges     map[string]*exchangeEntry
	installations map[string]*installationEntry
	refresh       map[string]string
	mu            sync.Mutex
}

type exchangeEntry struct {
	exchange  models.TokenExchange
	expiresAt time.Time
}

type installationEntry struct {
	installation models.Installation
	expiresAt    time.Time
}

func NewMemoryStorage() *MemoryStorage {
	storage := &MemoryStorage{
		pending:       make(map[string]*models.PendingAuthorization),
		exchanges:     make(map[string]*exchangeEntry),
		installations: make(map[string]*installationEntry),
		refresh:       make(map[string]string),
	}

	// Start background cleanup routine
	go storage.cleanupRoutine()

	return storage
}

func (m *MemoryStorage) CreatePending(ctx context.Context, pending *models.PendingAuthorization, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.pending[pending.Code]; exists && time.Now().Before(existing.ExpiresAt) {
		return ErrAlreadyExists
	}

	rec := *pending
	rec.ExpiresAt = time.Now().Add(ttl)
	m.pending[pending.Code] = &rec
	return nil
}

func (m *MemoryStorage) ConsumePending(ctx context.Context, code string) (*models.PendingAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, exists := m.pending[code]
	if !exists {
		return nil, ErrNotFound
	}
	delete(m.pending, code)

	if time.Now().After(pending.ExpiresAt) {
		return nil, ErrNotFound
	}

	return pending, nil
}

func (m *MemoryStorage) PublishExchange(ctx context.Context, exchange *models.TokenExchange, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exchanges[exchange.Code] = &exchangeEntry{
		exchange:  *exchange,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (m *MemoryStorage) GetExchange(ctx context.Context, code string) (*models.TokenExchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.exchanges[code]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}

	exchange := entry.exchange
	return &exchange, nil
}

func (m *MemoryStorage) RedeemExchange(ctx context.Context, code string) (*models.TokenExchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.exchanges[code]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}

	if entry.exchange.Used {
		return nil, ErrAlreadyRedeemed
	}

	// Check and flip under the same lock hold, so concurrent
	// redemptions yield exactly one winner.
	result := entry.exchange
	entry.exchange.Used = true
	return &result, nil
}

func (m *MemoryStorage) SaveInstallation(ctx context.Context, inst *models.Installation, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.installations[inst.AccessToken] = &installationEntry{
		installation: *inst,
		expiresAt:    time.Now().Add(ttl),
	}
	if inst.RefreshToken != "" {
		m.refresh[inst.RefreshToken] = inst.AccessToken
	}
	return nil
}

func (m *MemoryStorage) ReplaceInstallation(ctx context.Context, newInst *models.Installation, oldAccessToken string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.installations[newInst.AccessToken] = &installationEntry{
		installation: *newInst,
		expiresAt:    time.Now().Add(ttl),
	}
	if newInst.RefreshToken != "" {
		m.refresh[newInst.RefreshToken] = newInst.AccessToken
	}
	delete(m.installations, oldAccessToken)
	return nil
}

func (m *MemoryStorage) GetInstallation(ctx context.Context, accessToken string) (*models.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.installations[accessToken]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}

	inst := entry.installation
	return &inst, nil
}

func (m *MemoryStorage) GetAccessTokenByRefresh(ctx context.Context, refreshToken string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accessToken, exists := m.refresh[refreshToken]
	if !exists {
		return "", ErrNotFound
	}
	return accessToken, nil
}

func (m *MemoryStorage) DeleteInstallation(ctx context.Context, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.installations[accessToken]
	if !exists {
		return nil
	}
	delete(m.installations, accessToken)

	// Leave the mapping alone if rotation already repointed it.
	refreshToken := entry.installation.RefreshToken
	if refreshToken != "" && m.refresh[refreshToken] == accessToken {
		delete(m.refresh, refreshToken)
	}
	return nil
}

// cleanupRoutine runs every 5 minutes to clean up expired records
func (m *MemoryStorage) cleanupRoutine() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.cleanup()
	}
}

func (m *MemoryStorage) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	for code, pending := range m.pending {
		if now.After(pending.ExpiresAt) {
			delete(m.pending, code)
		}
	}

	for code, entry := range m.exchanges {
		if now.After(entry.expiresAt) {
			delete(m.exchanges, code)
		}
	}

	for token, entry := range m.installations {
		if now.After(entry.expiresAt) {
			refreshToken := entry.installation.RefreshToken
			if refreshToken != "" && m.refresh[refreshToken] == token {
				delete(m.refresh, refreshToken)
			}
			delete(m.installations, token)
		}
	}
}
