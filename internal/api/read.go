package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/centralreports/reportd/internal/auth"
	"github.com/centralreports/reportd/internal/domain"
)

// MountReadRoutes registers the public JSON read API.
func MountReadRoutes(r chi.Router, srv *Server) {
	r.Get("/posts", srv.HandleListPosts)
	r.Get("/units", srv.HandleListUnits)
	r.Get("/units/{id}", srv.HandleGetUnit)
}

// HandleListPosts returns the feed as JSON.
// Query: ?unit=<id>&q=<search>&limit=&offset=
func (s *Server) HandleListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePagination(r)
	list, err := s.Posts.ListPosts(r.Context(), domain.PostFilter{
		UnitID: strings.TrimSpace(q.Get("unit")),
		Search: strings.TrimSpace(q.Get("q")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		storeError(w, r, "failed to list posts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"posts":  list,
		"total":  len(list),
		"limit":  limit,
		"offset": offset,
	})
}

// HandleListUnits returns all units ordered by name.
func (s *Server) HandleListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := s.listUnits(r.Context())
	if err != nil {
		storeError(w, r, "failed to list units", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"units": units,
		"total": len(units),
	})
}

// HandleGetUnit returns one unit.
func (s *Server) HandleGetUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := s.Units.GetUnit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeError(w, r, "failed to get unit", err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

// requireSuperAdmin rejects API callers that are not super admins. The
// access gate only guards page paths, so API groups check the role here.
func requireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.IdentityFromContext(r.Context())
		switch {
		case !id.IsAuthenticated():
			errorJSON(w, domain.UserMessage(domain.ErrUnauthorized), "UNAUTHENTICATED", http.StatusUnauthorized)
		case !id.IsSuperAdmin():
			errorJSON(w, "super admin role required", "PERMISSION_DENIED", http.StatusForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// MountAdminRoutes registers the super-admin API: the audit trail and the
// cleanup job.
func MountAdminRoutes(r chi.Router, srv *Server) {
	r.Group(func(r chi.Router) {
		r.Use(requireSuperAdmin)
		MountAuditRoutes(r, srv)
		if srv.Reaper != nil {
			r.Get("/admin/reaper", srv.HandleReaperStatus)
			r.Post("/admin/reaper/run", srv.HandleRunReaper)
		}
	})
}

// HandleReaperStatus returns the result of the last cleanup pass on this
// replica.
func (s *Server) HandleReaperStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Reaper.Status())
}

// HandleRunReaper runs a cleanup pass immediately.
func (s *Server) HandleRunReaper(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Reaper.RunNow(r.Context()))
}
