package api_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/centralreports/reportd/internal/api"
	"github.com/centralreports/reportd/internal/auth"
	"github.com/centralreports/reportd/internal/domain"
	"github.com/centralreports/reportd/internal/posts"
)

var baseTime = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

// ── Stores ──────────────────────────────────────────────────────

// memoryPostStore is an in-memory post store serving both the read side and
// posts.Service.
type memoryPostStore struct {
	mu      sync.Mutex
	posts   map[string]domain.Post
	units   *memoryUnitStore
	nextID  int
	filters []domain.PostFilter
	listErr error
}

func newMemoryPostStore(units *memoryUnitStore) *memoryPostStore {
	return &memoryPostStore{posts: make(map[string]domain.Post), units: units}
}

func (m *memoryPostStore) add(p domain.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[p.ID] = p
}

func (m *memoryPostStore) ListPosts(_ context.Context, f domain.PostFilter) ([]domain.FeedPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	if m.listErr != nil {
		return nil, m.listErr
	}

	out := []domain.FeedPost{}
	for _, p := range m.posts {
		if f.UnitID != "" && p.UnitID != f.UnitID {
			continue
		}
		if f.Search != "" {
			needle := strings.ToLower(f.Search)
			if !strings.Contains(strings.ToLower(p.Title), needle) && !strings.Contains(strings.ToLower(p.Content), needle) {
				continue
			}
		}
		fp := domain.FeedPost{Post: p}
		if u, ok := m.units.lookup(p.UnitID); ok {
			fp.UnitName = u.Name
			fp.UnitCoverImage = u.CoverImage
		}
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryPostStore) lastFilter() domain.PostFilter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.filters) == 0 {
		return domain.PostFilter{}
	}
	return m.filters[len(m.filters)-1]
}

func (m *memoryPostStore) CountPosts(_ context.Context, unitID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.posts {
		if p.UnitID == unitID {
			n++
		}
	}
	return n, nil
}

func (m *memoryPostStore) GetPost(_ context.Context, id string) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *memoryPostStore) CreatePost(_ context.Context, p *domain.Post) error {
	if _, ok := m.units.lookup(p.UnitID); !ok {
		return domain.ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = fmt.Sprintf("new-%d", m.nextID)
	p.CreatedAt = baseTime.Add(time.Duration(m.nextID) * time.Hour)
	m.posts[p.ID] = *p
	return nil
}

func (m *memoryPostStore) UpdatePost(_ context.Context, id string, u domain.PostUpdate) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p.Title, p.Content, p.ImageURL = u.Title, u.Content, u.ImageURL
	m.posts[id] = p
	return &p, nil
}

func (m *memoryPostStore) DeletePost(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.posts, id)
	return nil
}

// memoryUnitStore is an in-memory UnitReader that counts list calls.
type memoryUnitStore struct {
	mu        sync.Mutex
	units     []domain.Unit
	listCalls atomic.Int32
	err       error
}

func (m *memoryUnitStore) lookup(id string) (domain.Unit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.units {
		if u.ID == id {
			return u, true
		}
	}
	return domain.Unit{}, false
}

func (m *memoryUnitStore) ListUnits(_ context.Context) ([]domain.Unit, error) {
	m.listCalls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Unit, len(m.units))
	copy(out, m.units)
	return out, nil
}

func (m *memoryUnitStore) GetUnit(_ context.Context, id string) (*domain.Unit, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.lookup(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (m *memoryUnitStore) ListUnitSummaries(_ context.Context) ([]domain.UnitSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UnitSummary, len(m.units))
	for i, u := range m.units {
		out[i] = domain.UnitSummary{Unit: u, AdminCount: 1}
	}
	return out, nil
}

// memoryAuditStore records audit entries.
type memoryAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memoryAuditStore) Log(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryAuditStore) List(_ context.Context, limit, offset int) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= len(m.entries) {
		return []domain.AuditEntry{}, nil
	}
	end := min(offset+limit, len(m.entries))
	return append([]domain.AuditEntry(nil), m.entries[offset:end]...), nil
}

func (m *memoryAuditStore) all() []domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...)
}

// ── Authenticator ───────────────────────────────────────────────

// Session tokens understood by fakeAuth.
const (
	tokenSuper         = "tok-super"
	tokenUnit7         = "tok-7"
	tokenUnit7Expiring = "tok-7-expiring"
	tokenOrphan        = "tok-orphan"
	tokenPublic        = "tok-public"
	tokenNoProfile     = "tok-noprofile"
	tokenBroken        = "tok-broken"

	refreshedToken = "tok-7-refreshed"
	password       = "correct horse battery"
)

var (
	superAdmin  = domain.Authenticated("u-super", domain.RoleSuperAdmin, "")
	unitAdmin7  = domain.Authenticated("u-7", domain.RoleUnitAdmin, "7")
	orphanAdmin = domain.Authenticated("u-orphan", domain.RoleUnitAdmin, "")
	publicUser  = domain.Authenticated("u-public", domain.RolePublic, "")
)

// fakeAuth resolves fixed tokens and signs in fixed accounts.
type fakeAuth struct {
	mu         sync.Mutex
	signedOut  []string
	signOutErr error
}

func (f *fakeAuth) Resolve(_ context.Context, token string) (auth.Resolution, error) {
	anon := auth.Resolution{Identity: domain.Anonymous()}
	switch token {
	case tokenSuper:
		return auth.Resolution{Identity: superAdmin}, nil
	case tokenUnit7:
		return auth.Resolution{Identity: unitAdmin7}, nil
	case tokenUnit7Expiring:
		return auth.Resolution{Identity: unitAdmin7, Token: refreshedToken, ExpiresAt: baseTime.Add(7 * 24 * time.Hour)}, nil
	case tokenOrphan:
		return auth.Resolution{Identity: orphanAdmin}, nil
	case tokenPublic:
		return auth.Resolution{Identity: publicUser}, nil
	case tokenNoProfile:
		return anon, domain.ErrProfileNotFound
	case tokenBroken:
		return anon, domain.Upstream("load session", errors.New("connection refused"))
	default:
		return anon, nil
	}
}

func (f *fakeAuth) SignIn(_ context.Context, email, pw string) (auth.Resolution, error) {
	accounts := map[string]struct {
		id    domain.Identity
		token string
	}{
		"super@example.com":  {superAdmin, tokenSuper},
		"unit7@example.com":  {unitAdmin7, tokenUnit7},
		"orphan@example.com": {orphanAdmin, tokenOrphan},
		"public@example.com": {publicUser, tokenPublic},
	}
	switch email {
	case "noprofile@example.com":
		return auth.Resolution{}, domain.ErrProfileNotFound
	case "down@example.com":
		return auth.Resolution{}, domain.Upstream("load credentials", errors.New("connection refused"))
	}
	acct, ok := accounts[email]
	if !ok || pw != password {
		return auth.Resolution{}, domain.ErrInvalidCredentials
	}
	return auth.Resolution{Identity: acct.id, Token: acct.token, ExpiresAt: baseTime.Add(7 * 24 * time.Hour)}, nil
}

func (f *fakeAuth) SignOut(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedOut = append(f.signedOut, token)
	return f.signOutErr
}

// ── Fixture ─────────────────────────────────────────────────────

type fixture struct {
	srv    *api.Server
	router http.Handler
	units  *memoryUnitStore
	posts  *memoryPostStore
	auth   *fakeAuth
	audit  *memoryAuditStore
}

// newFixture builds a router over two units with one post each. configure
// may adjust the Server before the router is built.
func newFixture(t *testing.T, configure ...func(*api.Server)) *fixture {
	t.Helper()
	units := &memoryUnitStore{units: []domain.Unit{
		{ID: "7", Name: "Northern District", Address: "7 River Rd", CreatedAt: baseTime},
		{ID: "9", Name: "Southern District", Address: "9 Hill St", CreatedAt: baseTime},
	}}
	store := newMemoryPostStore(units)
	store.add(domain.Post{ID: "p7", UnitID: "7", Title: "Flood relief update", Content: "Sandbags delivered", CreatedAt: baseTime})
	store.add(domain.Post{ID: "p9", UnitID: "9", Title: "School repairs", Content: "Roof fixed", CreatedAt: baseTime.Add(time.Hour)})

	f := &fixture{units: units, posts: store, auth: &fakeAuth{}, audit: &memoryAuditStore{}}
	f.srv = &api.Server{
		Posts:     store,
		Units:     units,
		Auth:      f.auth,
		Mutations: posts.NewService(store, nil),
		Audit:     f.audit,
		Cookie:    auth.CookieConfig{Name: "reportd_session"},
	}
	for _, c := range configure {
		c(f.srv)
	}
	f.router = api.NewRouter(f.srv)
	t.Cleanup(f.srv.RateLimiterStop)
	return f
}

// get performs a GET with an optional session token.
func (f *fixture) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "reportd_session", Value: token})
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// postForm performs an urlencoded POST with an optional session token.
func (f *fixture) postForm(t *testing.T, path, token string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "reportd_session", Value: token})
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// sessionCookie returns the session cookie set on rec, if any.
func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "reportd_session" {
			return c
		}
	}
	return nil
}
