package domain

import "errors"

// Sentinel errors returned across package boundaries. Callers match them
// with errors.Is and render them with UserMessage.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrProfileNotFound    = errors.New("user profile not found")
	ErrOrphanedUnitAdmin  = errors.New("unit admin has no assigned unit")
	ErrForbidden          = errors.New("caller may not manage this unit")
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrInvalidInput       = errors.New("invalid input")
)

// userMessages holds the text shown to end users for each sentinel.
var userMessages = []struct {
	err error
	msg string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrProfileNotFound, "User profile not found. Please contact your administrator."},
	{ErrOrphanedUnitAdmin, "Your account is not assigned to any unit. Contact your administrator."},
	{ErrForbidden, "You do not have permission to manage posts for this unit."},
	{ErrInvalidCredentials, "Invalid login credentials"},
	{ErrNotFound, "Not found"},
}

// UserMessage returns the message a mutation result carries for err.
// Sentinels map to fixed text; anything else (validation details, upstream
// failures) is reported with its own message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return err.Error()
}

// UpstreamError wraps a failure reported by the data store, the object store
// or the credential backend. Its message carries the upstream text.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream wraps err as an UpstreamError unless it is nil or already a
// domain sentinel that callers must see unchanged.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrNotFound, ErrAlreadyExists, ErrInvalidInput} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// IsUpstream reports whether err came from an external collaborator.
func IsUpstream(err error) bool {
	var up *UpstreamError
	return errors.As(err, &up)
}
