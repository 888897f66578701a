package postgres

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/centralreports/reportd/internal/domain"
)

// AuditStore persists the audit trail of mutating requests.
type AuditStore struct {
	db DBTX
}

// NewAuditStore creates an AuditStore backed by db.
func NewAuditStore(db DBTX) *AuditStore {
	return &AuditStore{db: db}
}

// Log records an audit entry.
func (s *AuditStore) Log(ctx context.Context, e domain.AuditEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_log (user_id, action, resource, detail, ip) VALUES ($1, $2, $3, $4, $5)`,
		e.UserID, e.Action, e.Resource, e.Detail, textOrNull(e.IP),
	)
	return mapError("insert audit entry", err)
}

// List returns recent audit entries, most recent first.
func (s *AuditStore) List(ctx context.Context, limit, offset int) ([]domain.AuditEntry, error) {
	entries := []domain.AuditEntry{}
	err := pgxscan.Select(ctx, s.db, &entries,
		`SELECT id::text AS id, user_id, action, resource, detail, COALESCE(ip, '') AS ip, created_at
		 FROM audit_log ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		clampLimit(limit, 50, 500), offset,
	)
	if err != nil {
		return nil, mapError("list audit entries", err)
	}
	return entries, nil
}

// DeleteOlderThan removes audit entries older than the given time.
// Returns the number of entries deleted.
func (s *AuditStore) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, mapError("delete old audit entries", err)
	}
	return int(tag.RowsAffected()), nil
}
