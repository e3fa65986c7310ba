package logout

import (
	"net/http"

	uierrors "github.com/dalemusser/opsdesk/internal/app/features/errors"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/app/system/authz"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"go.uber.org/zap"
)

type Handler struct {
	Log        *zap.Logger
	SessionMgr *auth.SessionManager
}

func NewHandler(sessionMgr *auth.SessionManager, logger *zap.Logger) *Handler {
	return &Handler{
		Log:        logger,
		SessionMgr: sessionMgr,
	}
}

// ServeLogout handles POST /logout.
//
// The desk client is kept; only its identity goes. Other tabs on the same
// client see the ANONYMOUS snapshot on their session stream and their
// collection streams close.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	c, ok := auth.ClientFrom(r)
	if ok && c.Session().Get().Identity != nil {
		ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Lookup(), h.Log, "logout")
		defer cancel()

		uid := c.Session().Get().UserID()
		if err := c.Session().Logout(ctx); err != nil {
			// The session is still valid; say so rather than pretend.
			h.Log.Warn("logout failed", zap.String("user_id", uid), zap.Error(err))
			uierrors.Write(w, http.StatusBadGateway, uierrors.CodeStore, "Sign-out failed. Please try again.")
			return
		}
		h.Log.Info("user signed out", zap.String("user_id", uid))
	}

	if ok {
		if err := h.SessionMgr.SaveClient(w, r, c); err != nil {
			h.Log.Error("logout: save session", zap.Error(err))
		}
	} else if err := h.SessionMgr.Clear(w, r); err != nil {
		h.Log.Error("logout: clear session", zap.Error(err))
	}

	// HTMX handling: use HX-Redirect to force a client-side navigation.
	if r.Header.Get("HX-Request") != "" {
		w.Header().Set("HX-Redirect", authz.LoginPath)
		w.WriteHeader(http.StatusOK)
		return
	}
	if uierrors.WantsHTML(r) {
		http.Redirect(w, r, authz.LoginPath, http.StatusSeeOther)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"session":  auth.CurrentSession(r),
		"redirect": authz.LoginPath,
	})
}
