package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"

	"github.com/centralreports/reportd/internal/domain"
)

// UnitStore implements unit lookups and the super-admin unit summary.
type UnitStore struct {
	db DBTX
}

// NewUnitStore creates a UnitStore backed by db.
func NewUnitStore(db DBTX) *UnitStore {
	return &UnitStore{db: db}
}

const unitColumns = "id, name, address, cover_image, created_at"

// ListUnits returns all units ordered by name.
func (s *UnitStore) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	units := []domain.Unit{}
	err := pgxscan.Select(ctx, s.db, &units,
		`SELECT `+unitColumns+` FROM units ORDER BY name, id`)
	if err != nil {
		return nil, mapError("list units", err)
	}
	return units, nil
}

// GetUnit returns a unit by ID or domain.ErrNotFound.
func (s *UnitStore) GetUnit(ctx context.Context, id string) (*domain.Unit, error) {
	var u domain.Unit
	err := pgxscan.Get(ctx, s.db, &u,
		`SELECT `+unitColumns+` FROM units WHERE id = $1`, id)
	if err != nil {
		return nil, mapError("get unit", err)
	}
	return &u, nil
}

// ListUnitSummaries returns all units ordered by name with the number of
// unit admins assigned to each and the number of posts each owns.
func (s *UnitStore) ListUnitSummaries(ctx context.Context) ([]domain.UnitSummary, error) {
	// Subqueries use the default ? placeholders; the outer builder numbers
	// them.
	admins := sq.Select("COUNT(*)").
		From("accounts a").
		Where("a.unit_id = u.id").
		Where(sq.Eq{"a.role": string(domain.RoleUnitAdmin)})
	posts := sq.Select("COUNT(*)").
		From("posts p").
		Where("p.unit_id = u.id")

	query, args, err := psql.
		Select("u.id", "u.name", "u.address", "u.cover_image", "u.created_at").
		Column(sq.Alias(admins, "admin_count")).
		Column(sq.Alias(posts, "post_count")).
		From("units u").
		OrderBy("u.name", "u.id").
		ToSql()
	if err != nil {
		return nil, mapError("build unit summary query", err)
	}

	summaries := []domain.UnitSummary{}
	if err := pgxscan.Select(ctx, s.db, &summaries, query, args...); err != nil {
		return nil, mapError("list unit summaries", err)
	}
	return summaries, nil
}

// CreateUnit inserts a unit, assigning an ID when u.ID is empty.
func (s *UnitStore) CreateUnit(ctx context.Context, u *domain.Unit) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	query, args, err := psql.
		Insert("units").
		Columns("id", "name", "address", "cover_image").
		Values(u.ID, u.Name, u.Address, u.CoverImage).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return mapError("build unit insert", err)
	}
	if err := s.db.QueryRow(ctx, query, args...).Scan(&u.CreatedAt); err != nil {
		return mapError("create unit", err)
	}
	return nil
}
