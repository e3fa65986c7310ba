// internal/app/features/heartbeat/handler.go
package heartbeat

import (
	"net/http"
	"time"

	uierrors "github.com/dalemusser/opsdesk/internal/app/features/errors"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Handler keeps a browser's desk client alive between view streams and
// extends its provider token ahead of the background refresher.
type Handler struct {
	SessionMgr *auth.SessionManager
	Window     time.Duration // refresh tokens expiring within this window
	Log        *zap.Logger
}

func NewHandler(sessionMgr *auth.SessionManager, window time.Duration, logger *zap.Logger) *Handler {
	return &Handler{SessionMgr: sessionMgr, Window: window, Log: logger}
}

type heartbeatResponse struct {
	Session   session.Session `json:"session"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Refreshed bool            `json:"refreshed"`
}

// ServeHeartbeat handles POST /heartbeat.
func (h *Handler) ServeHeartbeat(w http.ResponseWriter, r *http.Request) {
	c, ok := auth.ClientFrom(r)
	if !ok {
		uierrors.Write(w, http.StatusInternalServerError, uierrors.CodeInternal, "no session")
		return
	}
	c.Touch()

	var resp heartbeatResponse
	p := c.Provider()
	if c.Session().Get().Authenticated() && time.Until(p.ExpiresAt()) < h.Window {
		ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Lookup(), h.Log, "heartbeat refresh")
		err := p.Refresh(ctx)
		cancel()
		if err != nil {
			// A revoked token has already signed the session out.
			h.Log.Info("heartbeat refresh failed", zap.String("client", c.ID()), zap.Error(err))
		} else {
			resp.Refreshed = true
		}
		if err := h.SessionMgr.SaveClient(w, r, c); err != nil {
			h.Log.Warn("heartbeat: save session cookie", zap.Error(err))
		}
	}

	resp.Session = c.Session().Get()
	if resp.Session.Authenticated() {
		exp := p.ExpiresAt()
		resp.ExpiresAt = &exp
	}
	uierrors.WriteJSON(w, http.StatusOK, resp)
}
