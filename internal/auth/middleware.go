// Package auth resolves session tokens into identities and guards page
// requests with the authorization policy.
//
// Gate runs once per request: it resolves the caller, writes any refreshed
// session cookie, evaluates policy.Decide for the request path and either
// redirects or hands the identity to the next handler through the context.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/centralreports/reportd/internal/domain"
	"github.com/centralreports/reportd/internal/policy"
)

// Login page error codes set by Gate.
const (
	LoginErrorProfileNotFound = "profile_not_found"
	LoginErrorUnavailable     = "unavailable"
)

// Resolver is implemented by Service.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Resolution, error)
}

// DecisionObserver is notified of every policy decision Gate makes.
type DecisionObserver func(r *http.Request, d policy.Decision)

// Gate returns middleware that enforces the access policy on every request.
// Resolution errors never surface as error pages: on management paths they
// become redirects to the login page, elsewhere the request continues as
// anonymous with the error available via ResolveErrorFromContext.
func Gate(resolver Resolver, cookie CookieConfig, observe DecisionObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			path := r.URL.Path

			res, err := resolver.Resolve(ctx, TokenFromRequest(r, cookie))
			if res.Refreshed() {
				SetSessionCookie(w, cookie, res.Token, res.ExpiresAt)
			}

			if err != nil {
				code := LoginErrorUnavailable
				if errors.Is(err, domain.ErrProfileNotFound) {
					code = LoginErrorProfileNotFound
					slog.WarnContext(ctx, "session has no profile", "path", path)
				} else {
					slog.WarnContext(ctx, "identity resolution failed", "path", path, "error", err)
				}
				if policy.InManagementArea(path) {
					target := policy.PathLogin + "?error=" + url.QueryEscape(code)
					if observe != nil {
						observe(r, policy.Decision{Target: target, Rule: policy.RuleRequireAuth})
					}
					http.Redirect(w, r, target, http.StatusFound)
					return
				}
				ctx = contextWithResolveError(ctx, err)
			}

			d := policy.Decide(res.Identity, path)
			if observe != nil {
				observe(r, d)
			}
			if d.Redirected() {
				slog.DebugContext(ctx, "policy redirect",
					"path", path,
					"target", d.Target,
					"rule", string(d.Rule),
					"identity", res.Identity.String(),
				)
				http.Redirect(w, r, d.Target, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(ctx, res.Identity)))
		})
	}
}
