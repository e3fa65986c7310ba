// internal/app/features/adminusers/routes.go
package adminusers

import (
	"github.com/dalemusser/opsdesk/internal/app/system/authz"
	"github.com/dalemusser/opsdesk/internal/app/system/gates"
	"github.com/go-chi/chi/v5"
)

// Routes mounts at /admin. Every route needs the admin role.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(gates.Require(authz.ManageUsers))
	r.Get("/roles", h.ServeRoles)
	r.Get("/users", h.ServeUsers)
	r.Post("/users", h.HandleCreate)
	r.Post("/users/{email}/roles", h.HandleAssign)
	r.Delete("/users/{email}/roles", h.HandleUnassign)
	r.Post("/users/{email}/disable", h.HandleDisable)
	r.Post("/users/{email}/enable", h.HandleEnable)
	return r
}
