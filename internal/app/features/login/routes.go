// internal/app/features/login/routes.go
package login

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts at /login. Provider sign-in flows, when given, live under
// it (for example /login/google).
func Routes(h *Handler, providers map[string]http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeLogin)
	r.Post("/", h.HandleLoginPost)
	for name, p := range providers {
		r.Mount("/"+name, p)
	}
	return r
}
