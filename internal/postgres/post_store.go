package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"

	"github.com/centralreports/reportd/internal/domain"
)

const (
	defaultPostLimit = 50
	maxPostLimit     = 200
)

// PostStore implements post persistence and the public feed query.
type PostStore struct {
	db DBTX
}

// NewPostStore creates a PostStore backed by db.
func NewPostStore(db DBTX) *PostStore {
	return &PostStore{db: db}
}

var postColumns = []string{
	"p.id", "p.unit_id", "p.title", "p.content",
	"COALESCE(p.image_url, '') AS image_url", "p.created_at",
}

// feedQuery selects posts joined with unit display fields, newest first.
func feedQuery(f domain.PostFilter) sq.SelectBuilder {
	q := psql.
		Select(postColumns...).
		Columns("u.name AS unit_name", "u.cover_image AS unit_cover_image").
		From("posts p").
		Join("units u ON u.id = p.unit_id")
	if f.UnitID != "" {
		q = q.Where(sq.Eq{"p.unit_id": f.UnitID})
	}
	if f.Search != "" {
		pattern := likePattern(f.Search)
		q = q.Where(sq.Or{
			sq.ILike{"p.title": pattern},
			sq.ILike{"p.content": pattern},
		})
	}
	return q
}

// ListPosts returns posts matching f, newest first.
func (s *PostStore) ListPosts(ctx context.Context, f domain.PostFilter) ([]domain.FeedPost, error) {
	q := feedQuery(f).
		OrderBy("p.created_at DESC", "p.id").
		Limit(uint64(clampLimit(f.Limit, defaultPostLimit, maxPostLimit)))
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, mapError("build post list query", err)
	}

	posts := []domain.FeedPost{}
	if err := pgxscan.Select(ctx, s.db, &posts, query, args...); err != nil {
		return nil, mapError("list posts", err)
	}
	return posts, nil
}

// CountPosts counts the posts owned by unitID, or all posts when empty.
func (s *PostStore) CountPosts(ctx context.Context, unitID string) (int, error) {
	q := psql.Select("COUNT(*)").From("posts")
	if unitID != "" {
		q = q.Where(sq.Eq{"unit_id": unitID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, mapError("build post count query", err)
	}
	var n int
	if err := s.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, mapError("count posts", err)
	}
	return n, nil
}

// GetPost returns a post by ID or domain.ErrNotFound.
func (s *PostStore) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	query, args, err := psql.
		Select(postColumns...).
		From("posts p").
		Where(sq.Eq{"p.id": id}).
		ToSql()
	if err != nil {
		return nil, mapError("build post query", err)
	}
	var p domain.Post
	if err := pgxscan.Get(ctx, s.db, &p, query, args...); err != nil {
		return nil, mapError("get post", err)
	}
	return &p, nil
}

// CreatePost inserts p, assigning its ID and creation time. A unit_id that
// does not exist returns domain.ErrNotFound.
func (s *PostStore) CreatePost(ctx context.Context, p *domain.Post) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	query, args, err := psql.
		Insert("posts").
		Columns("id", "unit_id", "title", "content", "image_url").
		Values(p.ID, p.UnitID, p.Title, p.Content, textOrNull(p.ImageURL)).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return mapError("build post insert", err)
	}
	if err := s.db.QueryRow(ctx, query, args...).Scan(&p.CreatedAt); err != nil {
		return mapError("create post", err)
	}
	return nil
}

// UpdatePost overwrites the editable fields of post id and returns the
// stored row.
func (s *PostStore) UpdatePost(ctx context.Context, id string, u domain.PostUpdate) (*domain.Post, error) {
	query, args, err := psql.
		Update("posts").
		SetMap(map[string]any{
			"title":     u.Title,
			"content":   u.Content,
			"image_url": textOrNull(u.ImageURL),
		}).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING id, unit_id, title, content, COALESCE(image_url, '') AS image_url, created_at").
		ToSql()
	if err != nil {
		return nil, mapError("build post update", err)
	}
	var p domain.Post
	if err := pgxscan.Get(ctx, s.db, &p, query, args...); err != nil {
		return nil, mapError("update post", err)
	}
	return &p, nil
}

// DeletePost removes post id. Deleting a missing post returns
// domain.ErrNotFound.
func (s *PostStore) DeletePost(ctx context.Context, id string) error {
	query, args, err := psql.Delete("posts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return mapError("build post delete", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return mapError("delete post", err)
	}
	if tag.RowsAffected() == 0 {
		return mapError("delete post", domain.ErrNotFound)
	}
	return nil
}
