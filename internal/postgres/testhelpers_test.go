package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/centralreports/reportd/internal/domain"
	"github.com/centralreports/reportd/internal/postgres"
)

// testPool returns a pgxpool.Pool connected to the test database.
// It skips the test if DATABASE_URL is not set so unit runs stay fast.
// It runs migrations and cleans all tables before returning.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, url, postgres.PoolConfig{MaxConns: 4})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cleanTables(t, pool)

	return pool
}

// cleanTables truncates all tables. CASCADE clears the dependents of units
// and auth_users.
func cleanTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()
	for _, table := range []string{"units", "auth_users", "audit_log"} {
		if _, err := pool.Exec(ctx, "TRUNCATE "+table+" CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

func seedUnit(t *testing.T, pool *pgxpool.Pool, id, name string) *domain.Unit {
	t.Helper()
	u := &domain.Unit{ID: id, Name: name, Address: "1 Main St"}
	if err := postgres.NewUnitStore(pool).CreateUnit(context.Background(), u); err != nil {
		t.Fatalf("seed unit %s: %v", id, err)
	}
	return u
}

func seedUser(t *testing.T, pool *pgxpool.Pool, id, email string, role domain.Role, unitID string) {
	t.Helper()
	err := postgres.NewAccountStore(pool).CreateUser(context.Background(),
		domain.Credential{ID: id, Email: email, PasswordHash: "x"},
		domain.Account{Role: role, UnitID: unitID},
	)
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}
