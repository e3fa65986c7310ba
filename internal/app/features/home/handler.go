package home

import (
	"net/http"

	uierrors "github.com/dalemusser/opsdesk/internal/app/features/errors"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/app/system/authz"
	"github.com/dalemusser/opsdesk/internal/app/system/navigation"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"go.uber.org/zap"
)

// Handler serves the desk landing view.
type Handler struct {
	Log *zap.Logger
}

func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{Log: logger}
}

type landing struct {
	Session session.Session   `json:"session"`
	Menu    []navigation.Item `json:"menu"`
	CanEdit bool              `json:"can_edit"`
	IsAdmin bool              `json:"is_admin"`
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET / – landing                                                             |
*─────────────────────────────────────────────────────────────────────────────*/

// ServeRoot is the neutral default view. It is public: anonymous callers
// get a menu that only offers sign-in.
func (h *Handler) ServeRoot(w http.ResponseWriter, r *http.Request) {
	s := auth.CurrentSession(r)
	uierrors.WriteJSON(w, http.StatusOK, landing{
		Session: s,
		Menu:    navigation.Menu(s),
		CanEdit: authz.CanEdit(s),
		IsAdmin: authz.IsAdmin(s),
	})
}
