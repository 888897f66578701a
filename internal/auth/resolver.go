package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/centralreports/reportd/internal/domain"
)

// CredentialStore looks up auth users by email.
type CredentialStore interface {
	FindCredentialByEmail(ctx context.Context, email string) (*domain.Credential, error)
}

// SessionStore persists login sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	ExtendSession(ctx context.Context, id string, expiresAt time.Time) error
	RevokeSession(ctx context.Context, id string, at time.Time) error
}

// AccountStore loads the profile that grants a user their role.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
}

// Options configures session lifetimes.
type Options struct {
	// SessionTTL is the lifetime of a new or refreshed session.
	SessionTTL time.Duration
	// RefreshWindow is how close to expiry a session must be before a
	// request extends it and receives a new token.
	RefreshWindow time.Duration
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultOptions returns a 7 day session refreshed during its last day.
func DefaultOptions() Options {
	return Options{
		SessionTTL:    7 * 24 * time.Hour,
		RefreshWindow: 24 * time.Hour,
	}
}

// Resolution is the result of resolving or opening a session.
type Resolution struct {
	Identity domain.Identity
	// Token is set when the caller must store a new session token, either
	// after sign-in or after a refresh.
	Token     string
	ExpiresAt time.Time
}

// Refreshed reports whether a new token must be written back to the client.
func (r Resolution) Refreshed() bool { return r.Token != "" }

// Service resolves session tokens into identities and opens and closes
// sessions. It keeps no per-identity cache; every call reads the stores.
type Service struct {
	creds    CredentialStore
	sessions SessionStore
	accounts AccountStore
	tokens   *Tokens
	opts     Options
}

// NewService wires the identity resolver to its stores.
func NewService(creds CredentialStore, sessions SessionStore, accounts AccountStore, tokens *Tokens, opts Options) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultOptions().SessionTTL
	}
	if opts.RefreshWindow <= 0 || opts.RefreshWindow >= opts.SessionTTL {
		opts.RefreshWindow = opts.SessionTTL / 7
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tokens.now = opts.Now
	return &Service{creds: creds, sessions: sessions, accounts: accounts, tokens: tokens, opts: opts}
}

// Resolve maps a session token to the caller's identity.
//
// A missing, malformed, expired or revoked token resolves to an anonymous
// identity without error. A live session whose account row is missing
// returns domain.ErrProfileNotFound. Store failures return a
// *domain.UpstreamError.
func (s *Service) Resolve(ctx context.Context, token string) (Resolution, error) {
	anonymous := Resolution{Identity: domain.Anonymous()}
	if token == "" {
		return anonymous, nil
	}

	claims, err := s.tokens.Parse(token)
	if err != nil {
		slog.DebugContext(ctx, "session token rejected", "error", err)
		return anonymous, nil
	}

	session, err := s.sessions.GetSession(ctx, claims.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return anonymous, nil
	}
	if err != nil {
		return anonymous, domain.Upstream("load session", err)
	}
	now := s.opts.Now()
	if !session.Active(now) || session.UserID != claims.Subject {
		return anonymous, nil
	}

	account, err := s.accounts.GetAccount(ctx, session.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return anonymous, domain.ErrProfileNotFound
	}
	if err != nil {
		return anonymous, domain.Upstream("load account", err)
	}

	res := Resolution{Identity: domain.FromAccount(*account), ExpiresAt: session.ExpiresAt}
	if session.ExpiresAt.Sub(now) < s.opts.RefreshWindow {
		s.refresh(ctx, session, &res)
	}
	return res, nil
}

// refresh extends the session and issues a replacement token. A failure
// leaves the current token in place; it is still valid until it expires.
func (s *Service) refresh(ctx context.Context, session *domain.Session, res *Resolution) {
	expiresAt := s.opts.Now().Add(s.opts.SessionTTL)
	if err := s.sessions.ExtendSession(ctx, session.ID, expiresAt); err != nil {
		slog.WarnContext(ctx, "session refresh failed", "session_id", session.ID, "error", err)
		return
	}
	token, err := s.tokens.Issue(session.UserID, session.ID, expiresAt)
	if err != nil {
		slog.WarnContext(ctx, "session token reissue failed", "session_id", session.ID, "error", err)
		return
	}
	res.Token = token
	res.ExpiresAt = expiresAt
}

// SignIn verifies email and password and opens a session. Unknown emails
// and wrong passwords both return domain.ErrInvalidCredentials. A valid
// credential without an account row returns domain.ErrProfileNotFound and
// leaves no session behind.
func (s *Service) SignIn(ctx context.Context, email, password string) (Resolution, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Resolution{}, domain.ErrInvalidCredentials
	}

	cred, err := s.creds.FindCredentialByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		_, _ = VerifyPassword(string(dummyHash), password)
		return Resolution{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return Resolution{}, domain.Upstream("load credentials", err)
	}
	ok, err := VerifyPassword(cred.PasswordHash, password)
	if err != nil {
		return Resolution{}, domain.Upstream("verify credentials", err)
	}
	if !ok {
		return Resolution{}, domain.ErrInvalidCredentials
	}

	account, err := s.accounts.GetAccount(ctx, cred.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return Resolution{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return Resolution{}, domain.Upstream("load account", err)
	}

	now := s.opts.Now()
	session := domain.Session{
		ID:        uuid.NewString(),
		UserID:    cred.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.SessionTTL),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return Resolution{}, domain.Upstream("create session", err)
	}
	token, err := s.tokens.Issue(session.UserID, session.ID, session.ExpiresAt)
	if err != nil {
		return Resolution{}, fmt.Errorf("issue session token: %w", err)
	}

	return Resolution{
		Identity:  domain.FromAccount(*account),
		Token:     token,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// SignOut revokes the session behind token. Tokens that no longer parse
// are ignored; the caller clears the cookie either way.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil
	}
	if err := s.sessions.RevokeSession(ctx, claims.ID, s.opts.Now()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Upstream("revoke session", err)
	}
	return nil
}
