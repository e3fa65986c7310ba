// internal/app/features/signup/routes.go
package signup

import "github.com/go-chi/chi/v5"

// Routes mounts at /signup.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeSignup)
	r.Post("/", h.HandleSignup)
	return r
}
