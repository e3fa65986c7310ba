// internal/app/features/tables/routes.go
package tables

import (
	"github.com/dalemusser/opsdesk/internal/app/system/authz"
	"github.com/dalemusser/opsdesk/internal/app/system/gates"
	"github.com/go-chi/chi/v5"
)

// Routes mounts at /c. Reads need a signed-in session; writes need a role
// that may edit.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Route("/{collection}", func(r chi.Router) {
		r.With(gates.Require(authz.ReadRecords)).Get("/", h.ServeList)
		r.With(gates.Require(authz.ReadRecords)).Get("/events", h.ServeEvents)

		r.Group(func(r chi.Router) {
			r.Use(gates.Require(authz.WriteRecords))
			r.Post("/", h.HandleCreate)
			r.Put("/{id}", h.HandleUpdate)
			r.Delete("/{id}", h.HandleDelete)
		})
	})
	return r
}
