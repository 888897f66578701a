// Package posts implements the post mutations: create, update and delete.
// Every mutation re-applies the authorization policy before it touches
// storage, independent of the request gate.
package posts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/centralreports/reportd/internal/domain"
	"github.com/centralreports/reportd/internal/imageurl"
	"github.com/centralreports/reportd/internal/policy"
	"github.com/centralreports/reportd/internal/validate"
)

// Store is the post persistence the mutations need.
type Store interface {
	GetPost(ctx context.Context, id string) (*domain.Post, error)
	CreatePost(ctx context.Context, p *domain.Post) error
	UpdatePost(ctx context.Context, id string, u domain.PostUpdate) (*domain.Post, error)
	DeletePost(ctx context.Context, id string) error
}

// ImageStore receives uploaded images.
type ImageStore interface {
	PutImage(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (string, error)
	KeyFromURL(url string) (string, bool)
	DeleteImage(ctx context.Context, key string) error
}

// ErrImagesDisabled is returned for uploads when no image store is configured.
var ErrImagesDisabled = errors.New("image storage is not configured")

// MaxImageBytes caps a single uploaded image.
const MaxImageBytes = 10 << 20

// Image is an uploaded file taken from a multipart form.
type Image struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// CreateInput is the createPost form.
type CreateInput struct {
	UnitID   string `form:"unit_id" validate:"max=64"`
	Title    string `form:"title" validate:"required,max=200"`
	Content  string `form:"content" validate:"required,max=20000"`
	ImageURL string `form:"image_url" validate:"omitempty,max=2048,http_url"`
	Image    *Image `form:"-" validate:"-"`
}

// UpdateInput is the updatePost form. UnitID is what the client believes
// owns the post; ownership is decided from the stored row.
type UpdateInput struct {
	ID              string `form:"id" validate:"required,max=64"`
	UnitID          string `form:"unit_id" validate:"max=64"`
	Title           string `form:"title" validate:"required,max=200"`
	Content         string `form:"content" validate:"required,max=20000"`
	ImageURL        string `form:"image_url" validate:"omitempty,max=2048,http_url"`
	CurrentImageURL string `form:"current_image_url" validate:"omitempty,max=2048,http_url"`
	Image           *Image `form:"-" validate:"-"`
}

// DeleteInput is the deletePost form.
type DeleteInput struct {
	ID     string `form:"id" validate:"required,max=64"`
	UnitID string `form:"unit_id" validate:"max=64"`
}

// Service applies the mutation authorization rules around a Store.
type Service struct {
	store  Store
	images ImageStore
}

// NewService creates a Service. images may be nil, in which case uploads
// fail with ErrImagesDisabled and image URLs still work.
func NewService(store Store, images ImageStore) *Service {
	return &Service{store: store, images: images}
}

// Create publishes a new post for the caller's target unit.
func (s *Service) Create(ctx context.Context, id domain.Identity, in CreateInput) (*domain.Post, error) {
	if err := policy.RequireAuthenticated(id); err != nil {
		return nil, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	unitID, err := policy.TargetUnit(id, in.UnitID)
	if err != nil {
		return nil, err
	}

	imageURL, uploaded, err := s.resolveImage(ctx, in.Image, in.ImageURL, "")
	if err != nil {
		return nil, err
	}

	p := &domain.Post{
		UnitID:   unitID,
		Title:    in.Title,
		Content:  in.Content,
		ImageURL: imageURL,
	}
	if err := s.store.CreatePost(ctx, p); err != nil {
		if uploaded {
			s.discardUpload(ctx, imageURL)
		}
		return nil, domain.Upstream("create post", err)
	}
	slog.InfoContext(ctx, "post created", "post_id", p.ID, "unit_id", unitID, "user_id", id.UserID())
	return p, nil
}

// Update edits a post the caller manages.
func (s *Service) Update(ctx context.Context, id domain.Identity, in UpdateInput) (*domain.Post, error) {
	if err := policy.RequireAuthenticated(id); err != nil {
		return nil, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	in.CurrentImageURL = strings.TrimSpace(in.CurrentImageURL)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	current, err := s.authorizedPost(ctx, id, in.ID, in.UnitID)
	if err != nil {
		return nil, err
	}

	imageURL, uploaded, err := s.resolveImage(ctx, in.Image, in.ImageURL, in.CurrentImageURL)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdatePost(ctx, current.ID, domain.PostUpdate{
		Title:    in.Title,
		Content:  in.Content,
		ImageURL: imageURL,
	})
	if err != nil {
		if uploaded {
			s.discardUpload(ctx, imageURL)
		}
		return nil, domain.Upstream("update post", err)
	}
	slog.InfoContext(ctx, "post updated", "post_id", updated.ID, "unit_id", updated.UnitID, "user_id", id.UserID())
	return updated, nil
}

// Delete removes a post the caller manages and returns the deleted row.
func (s *Service) Delete(ctx context.Context, id domain.Identity, in DeleteInput) (*domain.Post, error) {
	if err := policy.RequireAuthenticated(id); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	current, err := s.authorizedPost(ctx, id, in.ID, in.UnitID)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeletePost(ctx, current.ID); err != nil {
		return nil, domain.Upstream("delete post", err)
	}
	slog.InfoContext(ctx, "post deleted", "post_id", current.ID, "unit_id", current.UnitID, "user_id", id.UserID())
	return current, nil
}

// authorizedPost loads post postID and checks id may manage its unit.
// A claimed unit that disagrees with the stored one is rejected.
func (s *Service) authorizedPost(ctx context.Context, id domain.Identity, postID, claimedUnit string) (*domain.Post, error) {
	p, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, domain.Upstream("load post", err)
	}
	if err := policy.CanManageUnit(id, p.UnitID); err != nil {
		return nil, err
	}
	if claimedUnit != "" && claimedUnit != p.UnitID {
		return nil, fmt.Errorf("%w: post does not belong to unit %q", domain.ErrInvalidInput, claimedUnit)
	}
	return p, nil
}

// resolveImage picks the stored image URL: an uploaded file wins, then an
// explicit URL (normalized), then the current one. The bool reports whether
// the URL names an object stored by this call.
func (s *Service) resolveImage(ctx context.Context, img *Image, url, current string) (string, bool, error) {
	if img != nil && img.Size > 0 {
		stored, err := s.upload(ctx, img)
		return stored, err == nil, err
	}
	if url != "" {
		return imageurl.Normalize(url), false, nil
	}
	return strings.TrimSpace(current), false, nil
}

func (s *Service) upload(ctx context.Context, img *Image) (string, error) {
	if s.images == nil {
		return "", uploadError(ErrImagesDisabled)
	}
	if img.Size > MaxImageBytes {
		return "", fmt.Errorf("%w: image exceeds %d MB", domain.ErrInvalidInput, MaxImageBytes>>20)
	}
	if img.ContentType != "" && !strings.HasPrefix(img.ContentType, "image/") {
		return "", fmt.Errorf("%w: %s is not an image", domain.ErrInvalidInput, img.ContentType)
	}
	url, err := s.images.PutImage(ctx, img.Filename, img.Body, img.Size, img.ContentType)
	if err != nil {
		return "", uploadError(err)
	}
	return url, nil
}

// uploadError reports an object store failure with the upstream text.
func uploadError(err error) error {
	return &domain.UpstreamError{Op: "Image upload failed", Err: err}
}

// discardUpload removes an image uploaded for a mutation that then failed.
// Failures are only logged.
func (s *Service) discardUpload(ctx context.Context, url string) {
	key, ok := s.images.KeyFromURL(url)
	if !ok {
		return
	}
	if err := s.images.DeleteImage(ctx, key); err != nil {
		slog.WarnContext(ctx, "failed to delete stored image", "key", key, "error", err)
	}
}
