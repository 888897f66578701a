package postgres

import (
	"context"
	"fmt"
)

// Pinger is satisfied by *pgxpool.Pool and pgxmock pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker implements api.HealthChecker for Postgres.
type HealthChecker struct {
	db Pinger
}

// NewHealthChecker creates a Postgres health checker backed by db.
func NewHealthChecker(db Pinger) *HealthChecker {
	return &HealthChecker{db: db}
}

// HealthCheck returns nil if the database answers a ping.
func (h *HealthChecker) HealthCheck(ctx context.Context) error {
	if err := h.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}
