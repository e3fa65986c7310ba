// internal/app/features/userinfo/handler.go
package userinfo

import (
	"net/http"
	"time"

	uierrors "github.com/dalemusser/opsdesk/internal/app/features/errors"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/app/system/authz"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/app/system/sse"
	"go.uber.org/zap"
)

// Handler serves the caller's session snapshot and its change stream.
type Handler struct {
	Log       *zap.Logger
	Heartbeat time.Duration
}

// NewHandler creates a new userinfo handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{Log: logger, Heartbeat: sse.DefaultHeartbeat}
}

// sessionView is the session as the UI consumes it.
type sessionView struct {
	session.Session
	CanEdit bool `json:"can_edit"`
	IsAdmin bool `json:"is_admin"`
}

func viewOf(s session.Session) sessionView {
	return sessionView{Session: s, CanEdit: authz.CanEdit(s), IsAdmin: authz.IsAdmin(s)}
}

// ServeSession handles GET /session.
//
// Response format:
//
//	{ "identity": {"id": "...", "email": "..."} | null, "roles": [...],
//	  "status": "authenticated", "can_edit": bool, "is_admin": bool }
func (h *Handler) ServeSession(w http.ResponseWriter, r *http.Request) {
	uierrors.WriteJSON(w, http.StatusOK, viewOf(auth.CurrentSession(r)))
}

// ServeEvents handles GET /session/events. It sends the current snapshot
// and then every published snapshot as a "session" event until the
// caller goes away.
func (h *Handler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	c, ok := auth.ClientFrom(r)
	if !ok {
		uierrors.Write(w, http.StatusInternalServerError, uierrors.CodeInternal, "no session")
		return
	}
	store := c.Session()

	sig := sse.NewSignal()
	unsub := store.Subscribe(func(session.Session) { sig.Notify() })
	defer unsub()

	stream, err := sse.Open(w)
	if err != nil {
		uierrors.Write(w, http.StatusInternalServerError, uierrors.CodeInternal, err.Error())
		return
	}
	sig.Notify()

	tick := time.NewTicker(h.Heartbeat)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sig.C():
			c.Touch()
			if err := stream.Event("session", viewOf(store.Get())); err != nil {
				h.Log.Debug("session stream closed", zap.String("client", c.ID()), zap.Error(err))
				return
			}
		case <-tick.C:
			c.Touch()
			if err := stream.Comment("keepalive"); err != nil {
				return
			}
		}
	}
}
