package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centralreports/reportd/internal/api"
	"github.com/centralreports/reportd/internal/cache"
	"github.com/centralreports/reportd/internal/domain"
)

func decodeBody(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	return m
}

func decodeAPIError(t *testing.T, body []byte) api.APIErrorDetail {
	t.Helper()
	var e api.APIError
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Error
}

func TestListPosts_JSON(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/v1/posts?unit=9&limit=500&offset=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec.Body.Bytes())
	assert.EqualValues(t, 200, body["limit"], "limit is clamped")
	assert.EqualValues(t, 3, body["offset"])

	filter := f.posts.lastFilter()
	assert.Equal(t, "9", filter.UnitID)
	assert.Equal(t, 200, filter.Limit)
	assert.Equal(t, 3, filter.Offset)
}

func TestListPosts_FeedFields(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/v1/posts?unit=7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Posts []domain.FeedPost `json:"posts"`
		Total int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Posts, 1)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "Flood relief update", resp.Posts[0].Title)
	assert.Equal(t, "Northern District", resp.Posts[0].UnitName)
}

func TestListPosts_UpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.posts.listErr = domain.Upstream("list posts", errors.New("connection refused"))

	rec := f.get(t, "/api/v1/posts", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	e := decodeAPIError(t, rec.Body.Bytes())
	assert.Equal(t, "UPSTREAM", e.Code)
	assert.Equal(t, api.ErrorTypeUnavailable, e.Type)
	assert.Equal(t, "failed to list posts", e.Message, "upstream detail is not leaked")
}

func TestFeedPage_UpstreamFailureIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.posts.listErr = domain.Upstream("list posts", errors.New("connection refused"))

	rec := f.get(t, "/", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetUnit(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/v1/units/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var u domain.Unit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	assert.Equal(t, "Northern District", u.Name)

	rec = f.get(t, "/api/v1/units/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	e := decodeAPIError(t, rec.Body.Bytes())
	assert.Equal(t, "NOT_FOUND", e.Code)
	assert.Equal(t, "Not found", e.Message)
}

func TestListUnits_Cached(t *testing.T) {
	f := newFixture(t, func(s *api.Server) {
		s.UnitCache = cache.New[string, []domain.Unit](cache.Options{TTL: time.Minute})
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := f.get(t, "/api/v1/units", "")
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()
	f.get(t, "/", "")

	assert.EqualValues(t, 1, f.units.listCalls.Load(), "feed and API share one cached unit list")

	body := decodeBody(t, f.get(t, "/api/v1/units", "").Body.Bytes())
	assert.EqualValues(t, 2, body["total"])
}

func TestListUnits_Uncached(t *testing.T) {
	f := newFixture(t)

	f.get(t, "/api/v1/units", "")
	f.get(t, "/api/v1/units", "")
	assert.EqualValues(t, 2, f.units.listCalls.Load())
}

func TestListUnits_FailureNotCached(t *testing.T) {
	f := newFixture(t, func(s *api.Server) {
		s.UnitCache = cache.New[string, []domain.Unit](cache.Options{TTL: time.Minute})
	})
	f.units.err = domain.Upstream("list units", errors.New("timeout"))

	rec := f.get(t, "/api/v1/units", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	f.units.err = nil
	rec = f.get(t, "/api/v1/units", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, f.units.listCalls.Load())
}

func TestAuditLog_RequiresSuperAdmin(t *testing.T) {
	f := newFixture(t)
	f.postForm(t, "/actions/logout", tokenUnit7, nil)

	rec := f.get(t, "/api/v1/audit", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decodeAPIError(t, rec.Body.Bytes()).Code)

	rec = f.get(t, "/api/v1/audit", tokenUnit7)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "PERMISSION_DENIED", decodeAPIError(t, rec.Body.Bytes()).Code)

	rec = f.get(t, "/api/v1/audit?limit=10", tokenSuper)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []domain.AuditEntry `json:"entries"`
		Limit   int                 `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 10, resp.Limit)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "logout", resp.Entries[0].Action)
}

type fakeReaper struct {
	mu     sync.Mutex
	runs   int
	status domain.ReaperStatus
}

func (f *fakeReaper) RunNow(context.Context) domain.ReaperStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	f.status = domain.ReaperStatus{SessionsPurged: 3, AuditPruned: 1, LastRunAt: baseTime}
	return f.status
}

func (f *fakeReaper) Status() domain.ReaperStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func TestReaperEndpoints(t *testing.T) {
	reaper := &fakeReaper{}
	f := newFixture(t, func(s *api.Server) { s.Reaper = reaper })

	rec := f.postForm(t, "/api/v1/admin/reaper/run", tokenUnit7, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, reaper.runs)

	rec = f.postForm(t, "/api/v1/admin/reaper/run", tokenSuper, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.ReaperStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 3, st.SessionsPurged)
	assert.Equal(t, 1, reaper.runs)

	rec = f.get(t, "/api/v1/admin/reaper", tokenSuper)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.AuditPruned)

	actions := []string{}
	for _, e := range f.audit.all() {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"run_reaper", "run_reaper"}, actions, "rejected attempts are audited too")
}

func TestReaperEndpoints_HiddenWithoutReaper(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/v1/admin/reaper", tokenSuper)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
