package domain

import "fmt"

// Role is the closed set of privilege levels an account can hold.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleUnitAdmin  Role = "unit_admin"
	RolePublic     Role = "public"
)

// ParseRole converts a stored or user-supplied role string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSuperAdmin, RoleUnitAdmin, RolePublic:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q: %w", s, ErrInvalidInput)
}

// Identity is the caller of a request. It is either anonymous or an
// authenticated user with exactly one role. Fields are unexported so the
// only states that exist are the ones the constructors produce: a unit ID is
// carried only by unit admins, and a unit admin without one is orphaned.
type Identity struct {
	authenticated bool
	userID        string
	role          Role
	unitID        string
}

// Anonymous returns the identity of an unauthenticated caller.
func Anonymous() Identity {
	return Identity{}
}

// Authenticated returns the identity of a signed-in user. unitID is dropped
// for every role but unit_admin. An unknown role degrades to public.
func Authenticated(userID string, role Role, unitID string) Identity {
	switch role {
	case RoleSuperAdmin, RolePublic:
		unitID = ""
	case RoleUnitAdmin:
	default:
		role = RolePublic
		unitID = ""
	}
	return Identity{authenticated: true, userID: userID, role: role, unitID: unitID}
}

// FromAccount builds the identity granted by an account record.
func FromAccount(a Account) Identity {
	return Authenticated(a.ID, a.Role, a.UnitID)
}

// IsAuthenticated reports whether the caller holds a valid session.
func (id Identity) IsAuthenticated() bool { return id.authenticated }

// UserID is empty for anonymous callers.
func (id Identity) UserID() string { return id.userID }

// Role is empty for anonymous callers.
func (id Identity) Role() Role { return id.role }

// IsSuperAdmin reports whether the caller is an authenticated super admin.
func (id Identity) IsSuperAdmin() bool {
	return id.authenticated && id.role == RoleSuperAdmin
}

// IsUnitAdmin reports whether the caller is an authenticated unit admin,
// with or without an assigned unit.
func (id Identity) IsUnitAdmin() bool {
	return id.authenticated && id.role == RoleUnitAdmin
}

// AssignedUnit returns the unit a unit admin manages. ok is false for every
// other caller, including an orphaned unit admin.
func (id Identity) AssignedUnit() (unitID string, ok bool) {
	if id.IsUnitAdmin() && id.unitID != "" {
		return id.unitID, true
	}
	return "", false
}

// IsOrphanedUnitAdmin reports a unit admin that has no unit assigned.
func (id Identity) IsOrphanedUnitAdmin() bool {
	return id.IsUnitAdmin() && id.unitID == ""
}

// String renders the identity for logs.
func (id Identity) String() string {
	if !id.authenticated {
		return "anonymous"
	}
	if id.unitID != "" {
		return fmt.Sprintf("%s(%s, unit=%s)", id.role, id.userID, id.unitID)
	}
	return fmt.Sprintf("%s(%s)", id.role, id.userID)
}
