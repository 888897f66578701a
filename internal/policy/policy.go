// Package policy is the authorization policy engine: a pure function from
// (identity, path) to an access decision. It does no I/O and keeps no state,
// so the request gate and the page handlers can evaluate it as often as they
// like and always get the same answer.
package policy

import (
	"net/url"
	"strings"

	"github.com/centralreports/reportd/internal/domain"
)

// Well-known routes.
const (
	PathHome       = "/"
	PathLogin      = "/login"
	PathManagement = "/management"
	PathSuperAdmin = "/management/super"

	unitPrefix = "/management/unit/"
)

// UnitDashboardPath returns the management dashboard path of a unit.
func UnitDashboardPath(unitID string) string {
	return unitPrefix + url.PathEscape(unitID)
}

// Rule identifies which policy rule produced a decision.
type Rule string

const (
	RuleRequireAuth Rule = "require_auth"
	RuleSuperOnly   Rule = "super_only"
	RuleUnitScope   Rule = "unit_scope"
	RuleManageRoot  Rule = "management_root"
	RuleLoginBounce Rule = "login_bounce"
	RuleDefault     Rule = "default"
)

// Decision is the outcome of evaluating a request path. Exactly one of
// Allow or a non-empty Target holds.
type Decision struct {
	Allow  bool
	Target string
	Rule   Rule
}

// Redirected reports whether the decision sends the caller elsewhere.
func (d Decision) Redirected() bool { return !d.Allow }

func allow(rule Rule) Decision { return Decision{Allow: true, Rule: rule} }

func redirect(rule Rule, target string) Decision {
	return Decision{Target: target, Rule: rule}
}

// Decide evaluates the access rules in order; the first matching rule wins.
func Decide(id domain.Identity, path string) Decision {
	inManagement := InManagementArea(path)

	if inManagement && !id.IsAuthenticated() {
		return redirect(RuleRequireAuth, PathLogin)
	}

	if inSuperSection(path) && !id.IsSuperAdmin() {
		return redirect(RuleSuperOnly, ownUnitOrHome(id))
	}

	if requested, ok := unitFromPath(path); ok {
		switch {
		case id.IsSuperAdmin():
			return allow(RuleUnitScope)
		case id.IsUnitAdmin():
			if own, ok := id.AssignedUnit(); ok && own == requested {
				return allow(RuleUnitScope)
			}
			return redirect(RuleUnitScope, ownUnitOrHome(id))
		default:
			return redirect(RuleUnitScope, PathHome)
		}
	}

	if isManagementRoot(path) {
		return redirect(RuleManageRoot, Landing(id))
	}

	if path == PathLogin && id.IsAuthenticated() {
		if id.IsSuperAdmin() {
			return redirect(RuleLoginBounce, PathSuperAdmin)
		}
		if own, ok := id.AssignedUnit(); ok {
			return redirect(RuleLoginBounce, UnitDashboardPath(own))
		}
		return allow(RuleLoginBounce)
	}

	return allow(RuleDefault)
}

// Landing is where an identity belongs inside the management area: super
// admins go to the super dashboard, unit admins with a unit to their unit,
// and everyone else home.
func Landing(id domain.Identity) string {
	if id.IsSuperAdmin() {
		return PathSuperAdmin
	}
	return ownUnitOrHome(id)
}

// LoginDestination is the routing instruction returned by a successful
// login. An orphaned unit admin has nowhere to go and gets
// ErrOrphanedUnitAdmin instead.
func LoginDestination(id domain.Identity) (string, error) {
	switch {
	case !id.IsAuthenticated():
		return "", domain.ErrUnauthorized
	case id.IsOrphanedUnitAdmin():
		return "", domain.ErrOrphanedUnitAdmin
	default:
		return Landing(id), nil
	}
}

// InManagementArea reports whether path is /management or below it.
func InManagementArea(path string) bool {
	return path == PathManagement || strings.HasPrefix(path, PathManagement+"/")
}

func inSuperSection(path string) bool {
	return path == PathSuperAdmin || strings.HasPrefix(path, PathSuperAdmin+"/")
}

func isManagementRoot(path string) bool {
	return path == PathManagement || path == PathManagement+"/"
}

// unitFromPath extracts {id} from /management/unit/{id}[/...].
func unitFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, unitPrefix)
	if !ok {
		return "", false
	}
	id, _, _ := strings.Cut(rest, "/")
	if id == "" {
		return "", false
	}
	return id, true
}

func ownUnitOrHome(id domain.Identity) string {
	if own, ok := id.AssignedUnit(); ok {
		return UnitDashboardPath(own)
	}
	return PathHome
}
