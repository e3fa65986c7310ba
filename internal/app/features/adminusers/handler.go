// internal/app/features/adminusers/handler.go
package adminusers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	uierrors "github.com/dalemusser/opsdesk/internal/app/features/errors"
	"github.com/dalemusser/opsdesk/internal/app/store/rolestore"
	"github.com/dalemusser/opsdesk/internal/app/system/accounts"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/app/system/paging"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBody = 16 << 10

// Handler lets admins create accounts and manage roles.
type Handler struct {
	Accounts *accounts.Service
	Log      *zap.Logger
}

func NewHandler(svc *accounts.Service, logger *zap.Logger) *Handler {
	return &Handler{Accounts: svc, Log: logger}
}

// HandleCreate handles POST /admin/users.
//
// Request body:
//
//	{ "email": "...", "full_name": "...", "password": "...",
//	  "auth_method": "password" | "google", "roles": ["manager"] }
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in accounts.NewUser
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&in); err != nil {
		uierrors.Write(w, http.StatusBadRequest, uierrors.CodeBadRequest, "Malformed user.")
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Write(), h.Log, "create user")
	defer cancel()

	out, err := h.Accounts.Create(ctx, in)
	if err != nil {
		uierrors.FromError(w, r, h.Log, err)
		return
	}
	h.Log.Info("admin created user",
		zap.String("admin_id", auth.CurrentSession(r).UserID()),
		zap.String("user_id", out.User.ID.Hex()))
	uierrors.WriteJSON(w, http.StatusCreated, out)
}

// roleChange is the body of role assignment requests.
type roleChange struct {
	Role string `json:"role"`
}

// HandleAssign handles POST /admin/users/{email}/roles.
func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, h.Accounts.Assign)
}

// HandleUnassign handles DELETE /admin/users/{email}/roles.
func (h *Handler) HandleUnassign(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, h.Accounts.Unassign)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, email, role string) error) {
	var in roleChange
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&in); err != nil || in.Role == "" {
		uierrors.Write(w, http.StatusBadRequest, uierrors.CodeBadRequest, "A role is required.")
		return
	}
	email := chi.URLParam(r, "email")

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Write(), h.Log, "change role")
	defer cancel()

	if err := apply(ctx, email, in.Role); err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	roles, err := h.Accounts.RolesOf(ctx, email)
	if err != nil {
		uierrors.FromError(w, r, h.Log, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, map[string]any{"email": email, "roles": roles})
}

// HandleDisable handles POST /admin/users/{email}/disable.
func (h *Handler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Write(), h.Log, "disable user")
	defer cancel()

	n, err := h.Accounts.Disable(ctx, chi.URLParam(r, "email"))
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, map[string]any{"status": "disabled", "tokens_revoked": n})
}

// HandleEnable handles POST /admin/users/{email}/enable.
func (h *Handler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Write(), h.Log, "enable user")
	defer cancel()

	if err := h.Accounts.Enable(ctx, chi.URLParam(r, "email")); err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, map[string]any{"status": "active"})
}

// ServeUsers handles GET /admin/users?status=&after=&limit=.
func (h *Handler) ServeUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Query(), h.Log, "list users")
	defer cancel()

	page, err := h.Accounts.ListUsers(ctx, query.Get(r, "status"), paging.Parse(r))
	if err != nil {
		uierrors.FromError(w, r, h.Log, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, page)
}

// ServeRoles handles GET /admin/roles.
func (h *Handler) ServeRoles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Query(), h.Log, "list roles")
	defer cancel()

	roles, err := h.Accounts.Roles(ctx)
	if err != nil {
		uierrors.FromError(w, r, h.Log, err)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, accounts.ErrNoSuchUser):
		uierrors.Write(w, http.StatusNotFound, uierrors.CodeNotFound, "No user with that email.")
	case errors.Is(err, rolestore.ErrRoleNotFound):
		uierrors.Write(w, http.StatusUnprocessableEntity, uierrors.CodeValidation, "No such role.")
	default:
		uierrors.FromError(w, r, h.Log, err)
	}
}
