package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/centralreports/reportd/internal/auth"
	"github.com/centralreports/reportd/internal/domain"
)

// AuditStore provides audit logging and retrieval.
type AuditStore interface {
	Log(ctx context.Context, e domain.AuditEntry) error
	List(ctx context.Context, limit, offset int) ([]domain.AuditEntry, error)
}

// auditActions names the audited endpoints. Other POSTs are not recorded.
var auditActions = map[string]string{
	"/actions/login":           "login",
	"/actions/logout":          "logout",
	"/actions/posts/create":    "create_post",
	"/actions/posts/update":    "update_post",
	"/actions/posts/delete":    "delete_post",
	"/api/v1/admin/reaper/run": "run_reaper",
}

// AuditMiddleware records every mutating request with the caller's identity
// before the handler runs, so the entry is written while the request
// context is still live. It needs the identity from auth.Gate and must be
// mounted after it.
func AuditMiddleware(store AuditStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			action, ok := auditActions[r.URL.Path]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			userID := "anonymous"
			if id := auth.IdentityFromContext(r.Context()); id.IsAuthenticated() {
				userID = id.UserID()
			}
			entry := domain.AuditEntry{
				UserID:   userID,
				Action:   action,
				Resource: r.URL.Path,
				IP:       clientIP(r),
			}
			if err := store.Log(r.Context(), entry); err != nil {
				slog.WarnContext(r.Context(), "audit log failed", "action", action, "error", err)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// MountAuditRoutes registers the audit log endpoint.
func MountAuditRoutes(r chi.Router, srv *Server) {
	r.Get("/audit", srv.HandleListAuditLog)
}

// HandleListAuditLog returns recent audit log entries.
func (s *Server) HandleListAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		errorJSON(w, "audit logging not enabled", "NOT_FOUND", http.StatusNotFound)
		return
	}

	limit, offset := parsePagination(r)
	entries, err := s.Audit.List(r.Context(), limit, offset)
	if err != nil {
		storeError(w, r, "failed to list audit log", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
		"limit":   limit,
		"offset":  offset,
	})
}
