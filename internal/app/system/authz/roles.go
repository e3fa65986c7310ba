// internal/app/system/authz/roles.go
package authz

import (
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/domain/models"
)

// Requirements used across the desk.
var (
	// ReadRecords gates every collection view.
	ReadRecords = None()
	// WriteRecords gates add, edit and delete. Without it data is read-only.
	WriteRecords = AnyOf(models.RoleAdmin, models.RoleManager)
	// ManageUsers gates user creation and role assignment.
	ManageUsers = AnyOf(models.RoleAdmin)
)

// CanEdit reports whether s may mutate records.
func CanEdit(s session.Session) bool {
	return Authorize(s, WriteRecords) == Allow
}

// IsAdmin reports whether s may manage users and roles.
func IsAdmin(s session.Session) bool {
	return Authorize(s, ManageUsers) == Allow
}
