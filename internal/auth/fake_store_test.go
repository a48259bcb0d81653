package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/storage"
	"github.com/google/uuid"
)

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*storage.User
	tokens   map[string]*storage.MachineToken
	refresh  map[string]refreshEntry
	events   []string
	lastUsed int
}

type refreshEntry struct {
	userID    uuid.UUID
	expiresAt time.Time
	revoked   bool
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[uuid.UUID]*storage.User),
		tokens:  make(map[string]*storage.MachineToken),
		refresh: make(map[string]refreshEntry),
	}
}

func (m *memStore) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			found := *u
			return &found, nil
		}
	}
	return nil, fmt.Errorf("user %w", storage.ErrNotFound)
}

func (m *memStore) GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %w", storage.ErrNotFound)
	}
	found := *u
	return &found, nil
}

func (m *memStore) CreateUser(ctx context.Context, username, passwordHash, role string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &storage.User{ID: uuid.New(), Username: username, PasswordHash: passwordHash, Role: role, CreatedAt: time.Now()}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.users[id].LastLoginAt = &now
	return nil
}

func (m *memStore) IncrementFailedLoginAttempts(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= maxAttempts {
		until := time.Now().Add(lockFor)
		u.LockedUntil = &until
	}
	return nil
}

func (m *memStore) ResetFailedLoginAttempts(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].FailedLoginAttempts = 0
	m.users[id].LockedUntil = nil
	return nil
}

func (m *memStore) CreateMachineToken(ctx context.Context, tokenHash, name string, permissions []string, createdBy *uuid.UUID, metadata map[string]interface{}) (*storage.MachineToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &storage.MachineToken{ID: uuid.New(), TokenHash: tokenHash, Name: name, Permissions: permissions, CreatedByUserID: createdBy, Metadata: metadata}
	m.tokens[tokenHash] = t
	return t, nil
}

func (m *memStore) GetMachineTokenByHash(ctx context.Context, tokenHash string) (*storage.MachineToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenHash]
	if !ok {
		return nil, fmt.Errorf("machine token %w", storage.ErrNotFound)
	}
	return t, nil
}

func (m *memStore) UpdateMachineTokenLastUsed(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUsed++
	return nil
}

func (m *memStore) ListMachineTokens(ctx context.Context) ([]*storage.MachineToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*storage.MachineToken
	for _, t := range m.tokens {
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) DeleteMachineToken(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, t := range m.tokens {
		if t.ID == id {
			delete(m.tokens, hash)
			return nil
		}
	}
	return fmt.Errorf("machine token %w", storage.ErrNotFound)
}

func (m *memStore) StoreRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = refreshEntry{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) GetRefreshToken(ctx context.Context, tokenHash string) (*uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.refresh[tokenHash]
	switch {
	case !ok:
		return nil, fmt.Errorf("refresh token %w", storage.ErrNotFound)
	case e.revoked:
		return nil, storage.ErrTokenRevoked
	case time.Now().After(e.expiresAt):
		return nil, storage.ErrTokenExpired
	}
	return &e.userID, nil
}

func (m *memStore) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.refresh[tokenHash]; ok {
		e.revoked = true
		m.refresh[tokenHash] = e
	}
	return nil
}

func (m *memStore) LogAuthEvent(ctx context.Context, eventType string, userID, machineTokenID *uuid.UUID, ip, userAgent string, success bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
	return nil
}
