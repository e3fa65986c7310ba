// internal/app/system/authz/authz.go
package authz

import (
	"strings"

	"github.com/dalemusser/opsdesk/internal/app/system/session"
)

// Decision is the outcome of Authorize.
type Decision int

const (
	Allow Decision = iota
	DenyUnauthenticated
	DenyForbidden
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyUnauthenticated:
		return "deny_unauthenticated"
	default:
		return "deny_forbidden"
	}
}

// Requirement is what a view or action demands of the session. The zero
// value is None.
type Requirement struct {
	roleGated bool
	anyOf     []string
}

// None requires only an authenticated session.
func None() Requirement { return Requirement{} }

// AnyOf requires an authenticated session holding at least one of roles.
// An empty set admits no one.
func AnyOf(roles ...string) Requirement {
	return Requirement{roleGated: true, anyOf: session.NormalizeRoles(roles)}
}

// Roles returns the accepted roles, or nil for None.
func (q Requirement) Roles() []string { return q.anyOf }

func (q Requirement) String() string {
	if !q.roleGated {
		return "none"
	}
	return "anyOf(" + strings.Join(q.anyOf, ",") + ")"
}

// Authorize decides whether s satisfies req. It is pure and never blocks,
// so it is safe to call on every render.
func Authorize(s session.Session, req Requirement) Decision {
	if !s.Authenticated() {
		return DenyUnauthenticated
	}
	if !req.roleGated {
		return Allow
	}
	if s.HasAnyRole(req.anyOf...) {
		return Allow
	}
	return DenyForbidden
}

// Redirect targets for denied navigation.
const (
	LoginPath   = "/login"
	DefaultPath = "/"
)

// RedirectTarget returns where a denied navigation should go, or "" for
// Allow. Forbidden requests land on the neutral default view.
func RedirectTarget(d Decision) string {
	switch d {
	case DenyUnauthenticated:
		return LoginPath
	case DenyForbidden:
		return DefaultPath
	}
	return ""
}
