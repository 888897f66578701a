// Package postgres implements Postgres-backed stores for reportd.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolConfig holds pgxpool connection limits. Zero fields keep the defaults
// from DefaultPoolConfig.
type PoolConfig struct {
	MaxConns          int32         `yaml:"max_conns"`
	MinConns          int32         `yaml:"min_conns"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period"`
}

// DefaultPoolConfig returns the limits used when nothing is configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          25,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	d := DefaultPoolConfig()
	if c.MaxConns > 0 {
		d.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		d.MinConns = c.MinConns
	}
	if c.MaxConnLifetime > 0 {
		d.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		d.MaxConnIdleTime = c.MaxConnIdleTime
	}
	if c.HealthCheckPeriod > 0 {
		d.HealthCheckPeriod = c.HealthCheckPeriod
	}
	if d.MinConns > d.MaxConns {
		d.MinConns = d.MaxConns
	}
	return d
}

// NewPool creates a pgxpool.Pool from a DATABASE_URL connection string and
// verifies connectivity with a ping.
func NewPool(ctx context.Context, databaseURL string, limits PoolConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	limits = limits.withDefaults()
	config.MaxConns = limits.MaxConns
	config.MinConns = limits.MinConns
	config.MaxConnLifetime = limits.MaxConnLifetime
	config.MaxConnIdleTime = limits.MaxConnIdleTime
	config.HealthCheckPeriod = limits.HealthCheckPeriod

	slog.Info("pgxpool configured",
		"host", config.ConnConfig.Host,
		"database", config.ConnConfig.Database,
		"max_conns", config.MaxConns,
		"min_conns", config.MinConns,
		"max_conn_lifetime", config.MaxConnLifetime,
		"health_check_period", config.HealthCheckPeriod,
	)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// RegisterPoolMetrics exports pool statistics (acquired, idle, total
// connections and wait durations) to reg.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) error {
	collector := pgxpoolprometheus.NewCollector(pool, map[string]string{
		"db_name": pool.Config().ConnConfig.Database,
	})
	if err := reg.Register(collector); err != nil {
		return fmt.Errorf("register pool metrics: %w", err)
	}
	return nil
}
