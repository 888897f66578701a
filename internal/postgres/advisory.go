package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLock holds a session-level Postgres advisory lock. The lock lives
// on a dedicated pooled connection for as long as it is held; when that
// connection dies Postgres releases the lock.
type AdvisoryLock struct {
	pool *pgxpool.Pool
	id   int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewAdvisoryLock returns an unlocked advisory lock on key id.
func NewAdvisoryLock(pool *pgxpool.Pool, id int64) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, id: id}
}

// TryLock acquires the lock without blocking. When the lock is already held
// it verifies the holding connection is still alive and reports false if
// it is not.
func (l *AdvisoryLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		if err := l.conn.Ping(ctx); err != nil {
			slog.Warn("advisory lock connection lost", "lock_id", l.id, "error", err)
			l.conn.Release()
			l.conn = nil
			return false, nil
		}
		return true, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire lock connection: %w", err)
	}
	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Unlock releases the lock if held.
func (l *AdvisoryLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()
	if _, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.id); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
