// Package domain defines the core business types shared across reportd.
// These types are the portal's data model, not HTTP or storage specifics.
//
// Domain types carry json tags because the read API serializes them
// directly. When a page or endpoint needs a different shape, define a view
// struct in the api package instead.
package domain

import (
	"time"
)

// Unit is an organizational subdivision that owns posts and is administered
// by zero or more unit admins.
type Unit struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Address    string    `json:"address" db:"address"`
	CoverImage string    `json:"cover_image" db:"cover_image"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// UnitSummary is a unit with the counters shown on the super-admin dashboard.
type UnitSummary struct {
	Unit
	AdminCount int `json:"admin_count" db:"admin_count"`
	PostCount  int `json:"post_count" db:"post_count"`
}

// Post is a report published by a unit.
type Post struct {
	ID        string    `json:"id" db:"id"`
	UnitID    string    `json:"unit_id" db:"unit_id"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content" db:"content"`
	ImageURL  string    `json:"image_url" db:"image_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FeedPost is a post joined with the owning unit's display fields.
type FeedPost struct {
	Post
	UnitName       string `json:"unit_name" db:"unit_name"`
	UnitCoverImage string `json:"unit_cover_image" db:"unit_cover_image"`
}

// PostUpdate lists the editable fields of a post. The owning unit never
// changes after creation.
type PostUpdate struct {
	Title    string
	Content  string
	ImageURL string
}

// PostFilter narrows a post listing. Zero values mean "no constraint".
type PostFilter struct {
	UnitID string // exact match on the owning unit
	Search string // case-insensitive substring over title and content
	Limit  int
	Offset int
}

// Account is the profile record that grants a role to an authenticated user.
// The account ID equals the auth user ID.
type Account struct {
	ID        string    `json:"id" db:"id"`
	Role      Role      `json:"role" db:"role"`
	UnitID    string    `json:"unit_id,omitempty" db:"unit_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Credential is an auth user as stored by the credential backend.
type Credential struct {
	ID           string `db:"id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
}

// Session is a server-side login session referenced by the session token.
type Session struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	CreatedAt time.Time  `db:"created_at"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
}

// Active reports whether the session can still authenticate requests at now.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// AuditEntry records a mutating request for later review.
type AuditEntry struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Action    string    `json:"action" db:"action"`
	Resource  string    `json:"resource" db:"resource"`
	Detail    string    `json:"detail" db:"detail"`
	IP        string    `json:"ip" db:"ip"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ReaperStatus reports what one cleanup pass removed.
type ReaperStatus struct {
	SessionsPurged int       `json:"sessions_purged"`
	AuditPruned    int       `json:"audit_pruned"`
	LastRunAt      time.Time `json:"last_run_at"`
}
