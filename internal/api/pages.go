package api

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/centralreports/reportd/internal/auth"
	"github.com/centralreports/reportd/internal/domain"
	"github.com/centralreports/reportd/internal/policy"
)

//go:embed templates/*.html
var templateFS embed.FS

// unitListKey is the only key of Server.UnitCache.
const unitListKey = "all"

// loginMessages maps the ?error= codes set by auth.Gate to login page text.
var loginMessages = map[string]string{
	auth.LoginErrorProfileNotFound: domain.UserMessage(domain.ErrProfileNotFound),
	auth.LoginErrorUnavailable:     "Sign-in is temporarily unavailable. Please try again.",
}

var pageFuncs = template.FuncMap{
	"unitPath": policy.UnitDashboardPath,
	"date":     func(t time.Time) string { return t.Format("2 Jan 2006") },
	"isoTime":  func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"excerpt":  excerpt,
}

// excerpt shortens s to at most n runes, cutting at a word boundary.
func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	cut := string([]rune(s)[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " .,;:") + "…"
}

type pageSet struct {
	pages map[string]*template.Template
}

// mustParsePages parses each page together with the shared layout. The
// templates are embedded, so a failure is a build defect.
func mustParsePages() *pageSet {
	names := []string{"feed", "unit", "login", "super", "dashboard", "post_form"}
	ps := &pageSet{pages: make(map[string]*template.Template, len(names))}
	for _, name := range names {
		ps.pages[name] = template.Must(template.New(name).Funcs(pageFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
	}
	return ps
}

// page is the data every template receives. Each page fills the fields it
// renders.
type page struct {
	Title    string
	Identity domain.Identity
	UnitPath string // dashboard link of the caller's own unit, if any

	Error     string
	Query     string
	UnitID    string
	Units     []domain.Unit
	Posts     []domain.FeedPost
	Unit      *domain.Unit
	Post      *domain.Post
	PostCount int
	Summaries []domain.UnitSummary
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, p page) {
	id := auth.IdentityFromContext(r.Context())
	p.Identity = id
	if own, ok := id.AssignedUnit(); ok {
		p.UnitPath = policy.UnitDashboardPath(own)
	}

	var buf bytes.Buffer
	if err := s.pages.pages[name].ExecuteTemplate(&buf, "layout", p); err != nil {
		slog.ErrorContext(r.Context(), "render page", "page", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		slog.DebugContext(r.Context(), "write page", "page", name, "error", err)
	}
}

// pageError renders a store failure on a page request.
func pageError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	slog.ErrorContext(r.Context(), msg, "error", err)
	http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
}

// MountPageRoutes registers the HTML pages.
func MountPageRoutes(r chi.Router, srv *Server) {
	r.Get("/", srv.HandleFeed)
	r.Get("/unit/{id}", srv.HandleUnitPage)
	r.Get("/login", srv.HandleLoginPage)

	r.Get("/management", srv.HandleManagementRoot)
	r.Get("/management/super", srv.HandleSuperDashboard)
	r.Route("/management/unit/{unitID}", func(r chi.Router) {
		r.Get("/", srv.HandleUnitDashboard)
		r.Get("/create", srv.HandleCreatePage)
		r.Get("/posts/{postID}/edit", srv.HandleEditPage)
	})
}

// listUnits returns all units for the filter bar, through the cache when
// one is configured.
func (s *Server) listUnits(ctx context.Context) ([]domain.Unit, error) {
	if s.UnitCache == nil {
		return s.Units.ListUnits(ctx)
	}
	return s.UnitCache.GetOrLoad(ctx, unitListKey, s.Units.ListUnits)
}

// HandleFeed renders the public feed, optionally filtered by ?unit= and
// searched with ?q=.
func (s *Server) HandleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePagination(r)
	filter := domain.PostFilter{
		UnitID: strings.TrimSpace(q.Get("unit")),
		Search: strings.TrimSpace(q.Get("q")),
		Limit:  limit,
		Offset: offset,
	}

	units, err := s.listUnits(r.Context())
	if err != nil {
		pageError(w, r, "list units", err)
		return
	}
	posts, err := s.Posts.ListPosts(r.Context(), filter)
	if err != nil {
		pageError(w, r, "list posts", err)
		return
	}

	s.render(w, r, "feed", page{
		Title:  "Latest reports",
		Query:  filter.Search,
		UnitID: filter.UnitID,
		Units:  units,
		Posts:  posts,
	})
}

// HandleUnitPage renders a unit's public page.
func (s *Server) HandleUnitPage(w http.ResponseWriter, r *http.Request) {
	unit, err := s.Units.GetUnit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		pageError(w, r, "get unit", err)
		return
	}
	posts, err := s.Posts.ListPosts(r.Context(), domain.PostFilter{UnitID: unit.ID, Limit: maxPageLimit})
	if err != nil {
		pageError(w, r, "list unit posts", err)
		return
	}
	s.render(w, r, "unit", page{Title: unit.Name, Unit: unit, Posts: posts})
}

// HandleLoginPage renders the sign-in form. Authenticated callers with a
// dashboard never get here; the gate sends them on.
func (s *Server) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	p := page{Title: "Sign in", Error: loginMessages[r.URL.Query().Get("error")]}
	if err := auth.ResolveErrorFromContext(r.Context()); err != nil && p.Error == "" {
		p.Error = loginMessages[auth.LoginErrorUnavailable]
		if errors.Is(err, domain.ErrProfileNotFound) {
			p.Error = loginMessages[auth.LoginErrorProfileNotFound]
		}
	}
	if id := auth.IdentityFromContext(r.Context()); id.IsOrphanedUnitAdmin() && p.Error == "" {
		p.Error = domain.UserMessage(domain.ErrOrphanedUnitAdmin)
	}
	s.render(w, r, "login", p)
}

// HandleManagementRoot sends the caller to their landing page. The gate
// already redirects every /management request; this covers a router
// mounted without it.
func (s *Server) HandleManagementRoot(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	target := policy.PathLogin
	if id.IsAuthenticated() {
		target = policy.Landing(id)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleSuperDashboard lists all units with their admin and post counts.
func (s *Server) HandleSuperDashboard(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.Units.ListUnitSummaries(r.Context())
	if err != nil {
		pageError(w, r, "list unit summaries", err)
		return
	}
	s.render(w, r, "super", page{Title: "All units", Summaries: summaries})
}

// managedUnit loads the unit of a management page. An unknown unit sends
// the caller to the login page.
func (s *Server) managedUnit(w http.ResponseWriter, r *http.Request) (*domain.Unit, bool) {
	unit, err := s.Units.GetUnit(r.Context(), chi.URLParam(r, "unitID"))
	if errors.Is(err, domain.ErrNotFound) {
		http.Redirect(w, r, policy.PathLogin, http.StatusFound)
		return nil, false
	}
	if err != nil {
		pageError(w, r, "get unit", err)
		return nil, false
	}
	return unit, true
}

// HandleUnitDashboard renders a unit's management dashboard.
func (s *Server) HandleUnitDashboard(w http.ResponseWriter, r *http.Request) {
	unit, ok := s.managedUnit(w, r)
	if !ok {
		return
	}
	count, err := s.Posts.CountPosts(r.Context(), unit.ID)
	if err != nil {
		pageError(w, r, "count posts", err)
		return
	}
	posts, err := s.Posts.ListPosts(r.Context(), domain.PostFilter{UnitID: unit.ID, Limit: maxPageLimit})
	if err != nil {
		pageError(w, r, "list unit posts", err)
		return
	}
	s.render(w, r, "dashboard", page{Title: unit.Name, Unit: unit, Posts: posts, PostCount: count})
}

// HandleCreatePage renders the new post form.
func (s *Server) HandleCreatePage(w http.ResponseWriter, r *http.Request) {
	unit, ok := s.managedUnit(w, r)
	if !ok {
		return
	}
	s.render(w, r, "post_form", page{Title: "New post", Unit: unit})
}

// HandleEditPage renders the edit form of a post owned by the unit in the
// path. Posts of other units are reported as missing.
func (s *Server) HandleEditPage(w http.ResponseWriter, r *http.Request) {
	unit, ok := s.managedUnit(w, r)
	if !ok {
		return
	}
	post, err := s.Posts.GetPost(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		pageError(w, r, "get post", err)
		return
	}
	if post.UnitID != unit.ID {
		http.NotFound(w, r)
		return
	}
	s.render(w, r, "post_form", page{Title: "Edit post", Unit: unit, Post: post})
}
