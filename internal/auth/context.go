package auth

import (
	"context"

	"github.com/centralreports/reportd/internal/domain"
)

type identityKey struct{}

type resolveErrKey struct{}

// ContextWithIdentity stores the request's resolved identity.
func ContextWithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by Gate, or an anonymous
// identity when the request never passed through it.
func IdentityFromContext(ctx context.Context) domain.Identity {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	if !ok {
		return domain.Anonymous()
	}
	return id
}

func contextWithResolveError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, resolveErrKey{}, err)
}

// ResolveErrorFromContext returns the error identity resolution reported
// for a request that was still allowed through, such as a login page
// request whose session has no profile.
func ResolveErrorFromContext(ctx context.Context) error {
	err, _ := ctx.Value(resolveErrKey{}).(error)
	return err
}
