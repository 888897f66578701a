package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/centralreports/reportd/internal/auth"
	"github.com/centralreports/reportd/internal/domain"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// memoryStore implements the credential, session and account stores.
type memoryStore struct {
	mu       sync.Mutex
	creds    map[string]domain.Credential // key: email
	sessions map[string]domain.Session
	accounts map[string]domain.Account
	failWith error // returned by every call when set
	extended int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		creds:    make(map[string]domain.Credential),
		sessions: make(map[string]domain.Session),
		accounts: make(map[string]domain.Account),
	}
}

func (m *memoryStore) addUser(t *testing.T, id, email, password string, acct *domain.Account) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[email] = domain.Credential{ID: id, Email: email, PasswordHash: hash}
	if acct != nil {
		acct.ID = id
		m.accounts[id] = *acct
	}
}

func (m *memoryStore) FindCredentialByEmail(_ context.Context, email string) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	c, ok := m.creds[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *memoryStore) CreateSession(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *memoryStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *memoryStore) ExtendSession(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.ExpiresAt = expiresAt
	m.sessions[id] = s
	m.extended++
	return nil
}

func (m *memoryStore) RevokeSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.RevokedAt = &at
	m.sessions[id] = s
	return nil
}

func (m *memoryStore) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (m *memoryStore) deleteAccount(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
}

func (m *memoryStore) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*auth.Service, *memoryStore, *clock) {
	t.Helper()
	store := newMemoryStore()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tokens, err := auth.NewTokens(testSecret)
	require.NoError(t, err)
	svc := auth.NewService(store, store, store, tokens, auth.Options{
		SessionTTL:    24 * time.Hour,
		RefreshWindow: time.Hour,
		Now:           clk.Now,
	})
	return svc, store, clk
}

var errDatabaseDown = errors.New("connection refused")
