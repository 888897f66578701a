// Package api serves reportd over HTTP: the public and management pages,
// the form actions that mutate posts and sessions, a JSON read API under
// /api/v1 and the operational endpoints.
//
// Every application route passes through auth.Gate, so the access policy is
// evaluated once per request before any handler runs. Handlers read the
// resolved identity with auth.IdentityFromContext.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/centralreports/reportd/internal/auth"
	"github.com/centralreports/reportd/internal/cache"
	"github.com/centralreports/reportd/internal/domain"
	"github.com/centralreports/reportd/internal/posts"
)

// maxFormBodySize caps urlencoded action bodies. Multipart bodies are capped
// by maxMultipartBodySize instead.
const maxFormBodySize = 1 << 20

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parsePagination reads limit and offset from query params with defaults and bounds.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// Structured error type codes for machine-readable error categorization.
const (
	ErrorTypeValidation     = "VALIDATION"
	ErrorTypeAuthentication = "AUTHENTICATION"
	ErrorTypeAuthorization  = "AUTHORIZATION"
	ErrorTypeNotFound       = "NOT_FOUND"
	ErrorTypeConflict       = "CONFLICT"
	ErrorTypeRateLimit      = "RATE_LIMIT"
	ErrorTypeInternal       = "INTERNAL"
	ErrorTypeUnavailable    = "UNAVAILABLE"
)

// APIError is the JSON error envelope of the read API.
// Format: {"error": {"code": "ERROR_CODE", "type": "ERROR_TYPE", "message": "human-readable message"}}
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail holds the code, type, and message inside the error envelope.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func errorTypeFromStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return ErrorTypeValidation
	case status == http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case status == http.StatusForbidden:
		return ErrorTypeAuthorization
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusConflict:
		return ErrorTypeConflict
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway:
		return ErrorTypeUnavailable
	case status >= 500:
		return ErrorTypeInternal
	default:
		return ""
	}
}

// errorJSON writes a structured JSON error response. The type field is
// derived from the HTTP status code.
func errorJSON(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{
		Error: APIErrorDetail{Code: code, Type: errorTypeFromStatus(status), Message: message},
	}); err != nil {
		slog.Error("failed to encode JSON error response", "error", err)
	}
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// classify maps an error to an HTTP status and an error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrOrphanedUnitAdmin),
		errors.Is(err, domain.ErrProfileNotFound):
		return http.StatusForbidden, "PERMISSION_DENIED"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, posts.ErrImagesDisabled):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case domain.IsUpstream(err):
		return http.StatusBadGateway, "UPSTREAM"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// storeError renders a read API failure. Unexpected errors are logged in
// full and reported generically.
func storeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, code := classify(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), msg, "error", err)
		errorJSON(w, msg, code, status)
		return
	}
	errorJSON(w, domain.UserMessage(err), code, status)
}

// securityHeaders adds standard HTTP security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// PostReader is the read side of post storage.
type PostReader interface {
	ListPosts(ctx context.Context, f domain.PostFilter) ([]domain.FeedPost, error)
	CountPosts(ctx context.Context, unitID string) (int, error)
	GetPost(ctx context.Context, id string) (*domain.Post, error)
}

// UnitReader is the read side of unit storage.
type UnitReader interface {
	ListUnits(ctx context.Context) ([]domain.Unit, error)
	GetUnit(ctx context.Context, id string) (*domain.Unit, error)
	ListUnitSummaries(ctx context.Context) ([]domain.UnitSummary, error)
}

// Authenticator resolves sessions and opens and closes them.
// Implemented by auth.Service.
type Authenticator interface {
	auth.Resolver
	SignIn(ctx context.Context, email, password string) (auth.Resolution, error)
	SignOut(ctx context.Context, token string) error
}

// PostMutator applies post mutations on behalf of an identity.
// Implemented by posts.Service.
type PostMutator interface {
	Create(ctx context.Context, id domain.Identity, in posts.CreateInput) (*domain.Post, error)
	Update(ctx context.Context, id domain.Identity, in posts.UpdateInput) (*domain.Post, error)
	Delete(ctx context.Context, id domain.Identity, in posts.DeleteInput) (*domain.Post, error)
}

// ReaperRunner exposes the background cleanup to administrators.
type ReaperRunner interface {
	RunNow(ctx context.Context) domain.ReaperStatus
	Status() domain.ReaperStatus
}

// Server holds dependencies for all handlers.
type Server struct {
	Posts     PostReader
	Units     UnitReader
	Auth      Authenticator
	Mutations PostMutator
	Audit     AuditStore   // Nil disables the audit trail and /api/v1/audit.
	Reaper    ReaperRunner // Nil hides /api/v1/admin/reaper.
	Cookie    auth.CookieConfig
	Metrics   *Metrics // Nil disables /metrics and instrumentation.

	CORSOrigins     []string         // Allowed CORS origins. Empty means same-origin only.
	RateLimit       *RateLimitConfig // Per-IP rate limiting config. Nil disables rate limiting.
	LoginRateLimit  *RateLimitConfig // Per-IP limit on /actions/login. Nil disables it.
	RateLimiterStop func()           // Populated by NewRouter when rate limiting is enabled.

	DBHealth HealthChecker // Postgres health check (pool.Ping). Nil = skip.
	S3Health HealthChecker // S3/MinIO health check (BucketExists). Nil = skip.

	// UnitCache holds the unit list shown in the feed filter bar. Nil
	// disables caching.
	UnitCache *cache.Cache[string, []domain.Unit]

	pages *pageSet
}

// NewRouter creates a configured chi router with all routes mounted.
func NewRouter(srv *Server) chi.Router {
	srv.pages = mustParsePages()

	r := chi.NewRouter()

	// go-chi/cors allows every origin when none are listed, so the middleware
	// is only installed for explicitly configured origins.
	if len(srv.CORSOrigins) > 0 {
		r.Use(corsHandler(srv.CORSOrigins))
	}
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	if srv.Metrics != nil {
		r.Use(srv.Metrics.Instrument)
	}

	// Health & metrics (no identity resolution)
	r.Get("/health", srv.HandleHealth)
	r.Get("/health/live", srv.HandleHealthLive)
	r.Get("/health/ready", srv.HandleHealthReady)
	if srv.Metrics != nil {
		r.Get("/metrics", srv.Metrics.Handler().ServeHTTP)
	}

	var stops []func()
	r.Group(func(r chi.Router) {
		if srv.RateLimit != nil {
			rl, mw := RateLimit(*srv.RateLimit, nil)
			stops = append(stops, rl.Stop)
			r.Use(mw)
		}
		var observe auth.DecisionObserver
		if srv.Metrics != nil {
			observe = srv.Metrics.ObserveDecision
		}
		r.Use(auth.Gate(srv.Auth, srv.Cookie, observe))
		if srv.Audit != nil {
			r.Use(AuditMiddleware(srv.Audit))
		}

		MountPageRoutes(r, srv)

		r.Route("/actions", func(r chi.Router) {
			r.Use(noStore)
			login := http.HandlerFunc(srv.HandleLogin)
			if srv.LoginRateLimit != nil {
				rl, mw := RateLimit(*srv.LoginRateLimit, rejectLoginAttempt)
				stops = append(stops, rl.Stop)
				r.Method(http.MethodPost, "/login", mw(login))
			} else {
				r.Method(http.MethodPost, "/login", login)
			}
			MountActionRoutes(r, srv)
		})

		r.Route("/api/v1", func(r chi.Router) {
			MountReadRoutes(r, srv)
			MountAdminRoutes(r, srv)
		})
	})

	srv.RateLimiterStop = func() {
		for _, stop := range stops {
			stop()
		}
	}
	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "RateLimit-Limit", "RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if hasWildcard(origins) {
		// Access-Control-Allow-Origin may not be "*" together with credentials,
		// so the request origin is reflected instead.
		slog.Warn("CORS: wildcard origin '*' with AllowCredentials, using dynamic origin reflection")
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool { return true }
	} else {
		opts.AllowedOrigins = origins
	}
	return cors.Handler(opts)
}

func hasWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// noStore keeps action responses, which may carry session cookies, out of
// shared caches.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the caller address without the port. RealIP has already
// replaced RemoteAddr with the proxy-reported address when there is one.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
