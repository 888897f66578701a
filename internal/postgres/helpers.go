package postgres

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// textOrNull converts a Go string to pgtype.Text.
// Empty string → NULL, non-empty → valid text.
func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// clampLimit bounds a list limit to (0, max], using def when unset.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
