package policy

import "github.com/centralreports/reportd/internal/domain"

// RequireAuthenticated is the first check of every mutation.
func RequireAuthenticated(id domain.Identity) error {
	if !id.IsAuthenticated() {
		return domain.ErrUnauthorized
	}
	return nil
}

// CanManageUnit reports whether id may create, edit or delete posts owned by
// unitID. Super admins manage every unit; unit admins only their own.
func CanManageUnit(id domain.Identity, unitID string) error {
	if err := RequireAuthenticated(id); err != nil {
		return err
	}
	switch {
	case id.IsSuperAdmin():
		return nil
	case id.IsOrphanedUnitAdmin():
		return domain.ErrOrphanedUnitAdmin
	case id.IsUnitAdmin():
		if own, _ := id.AssignedUnit(); own == unitID {
			return nil
		}
		return domain.ErrForbidden
	default:
		return domain.ErrForbidden
	}
}

// TargetUnit resolves the unit a new post is created for. A unit admin may
// leave requested empty to mean their own unit.
func TargetUnit(id domain.Identity, requested string) (string, error) {
	if err := RequireAuthenticated(id); err != nil {
		return "", err
	}
	if requested == "" {
		if own, ok := id.AssignedUnit(); ok {
			requested = own
		} else if id.IsOrphanedUnitAdmin() {
			return "", domain.ErrOrphanedUnitAdmin
		}
	}
	if err := CanManageUnit(id, requested); err != nil {
		return "", err
	}
	if requested == "" {
		return "", domain.ErrInvalidInput
	}
	return requested, nil
}
