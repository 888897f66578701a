package postgres

import (
	"context"
	"time"

	"github.com/centralreports/reportd/internal/domain"
)

// SessionStore persists login sessions for the credential backend.
type SessionStore struct {
	db DBTX
}

// NewSessionStore creates a SessionStore backed by db.
func NewSessionStore(db DBTX) *SessionStore {
	return &SessionStore{db: db}
}

// CreateSession inserts a new session row.
func (s *SessionStore) CreateSession(ctx context.Context, sess domain.Session) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	return mapError("create session", err)
}

// GetSession returns session id or domain.ErrNotFound. Expired and revoked
// sessions are returned as stored; callers check Session.Active.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, created_at, expires_at, revoked_at FROM auth_sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt, &sess.RevokedAt)
	if err != nil {
		return nil, mapError("get session", err)
	}
	return &sess, nil
}

// ExtendSession moves the expiry of a live session.
func (s *SessionStore) ExtendSession(ctx context.Context, id string, expiresAt time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE auth_sessions SET expires_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, expiresAt)
	if err != nil {
		return mapError("extend session", err)
	}
	if tag.RowsAffected() == 0 {
		return mapError("extend session", domain.ErrNotFound)
	}
	return nil
}

// RevokeSession marks a session as signed out.
func (s *SessionStore) RevokeSession(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE auth_sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, at)
	if err != nil {
		return mapError("revoke session", err)
	}
	if tag.RowsAffected() == 0 {
		return mapError("revoke session", domain.ErrNotFound)
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired or were revoked
// before cutoff. Returns the number of rows deleted.
func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM auth_sessions WHERE expires_at < $1 OR revoked_at < $1`, cutoff)
	if err != nil {
		return 0, mapError("delete expired sessions", err)
	}
	return int(tag.RowsAffected()), nil
}
