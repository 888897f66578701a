package postgres

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/centralreports/reportd/internal/domain"
)

// AccountStore implements profile and credential lookups.
type AccountStore struct {
	db DBTX
}

// NewAccountStore creates an AccountStore backed by db.
func NewAccountStore(db DBTX) *AccountStore {
	return &AccountStore{db: db}
}

// GetAccount returns the profile of user id or domain.ErrNotFound.
func (s *AccountStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	err := pgxscan.Get(ctx, s.db, &a,
		`SELECT id, role, COALESCE(unit_id, '') AS unit_id, created_at FROM accounts WHERE id = $1`, id)
	if err != nil {
		return nil, mapError("get account", err)
	}
	return &a, nil
}

// FindCredentialByEmail returns the auth user registered under email.
func (s *AccountStore) FindCredentialByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	var c domain.Credential
	err := pgxscan.Get(ctx, s.db, &c,
		`SELECT id, email, password_hash FROM auth_users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, mapError("find credential", err)
	}
	return &c, nil
}

// CountUnitAdmins counts the unit admins assigned to unitID.
func (s *AccountStore) CountUnitAdmins(ctx context.Context, unitID string) (int, error) {
	query, args, err := psql.
		Select("COUNT(*)").
		From("accounts").
		Where(sq.Eq{"unit_id": unitID, "role": string(domain.RoleUnitAdmin)}).
		ToSql()
	if err != nil {
		return 0, mapError("build admin count query", err)
	}
	var n int
	if err := s.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, mapError("count unit admins", err)
	}
	return n, nil
}

// CreateUser inserts an auth user and its profile in one transaction.
// A duplicate email returns domain.ErrAlreadyExists and an unknown unit
// returns domain.ErrNotFound.
func (s *AccountStore) CreateUser(ctx context.Context, cred domain.Credential, acct domain.Account) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO auth_users (id, email, password_hash) VALUES ($1, $2, $3)`,
			cred.ID, strings.ToLower(strings.TrimSpace(cred.Email)), cred.PasswordHash,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, role, unit_id) VALUES ($1, $2, $3)`,
			cred.ID, string(acct.Role), textOrNull(acct.UnitID),
		)
		return err
	})
	return mapError("create user", err)
}
