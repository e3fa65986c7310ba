// internal/app/features/login/handler.go
package login

import (
	"encoding/json"
	"mime"
	"net/http"

	uierrors "github.com/dalemusser/opsdesk/internal/app/features/errors"
	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/app/system/authz"
	"github.com/dalemusser/opsdesk/internal/app/system/normalize"
	"github.com/dalemusser/opsdesk/internal/app/system/ratelimit"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/dalemusser/waffle/pantry/urlutil"
	"go.uber.org/zap"
)

const maxBody = 16 << 10

type Handler struct {
	Log           *zap.Logger
	SessionMgr    *auth.SessionManager
	Limiter       *ratelimit.LoginLimiter
	GoogleEnabled bool // true if Google sign-in is configured
}

func NewHandler(sessionMgr *auth.SessionManager, limiter *ratelimit.LoginLimiter, googleEnabled bool, logger *zap.Logger) *Handler {
	return &Handler{
		Log:           logger,
		SessionMgr:    sessionMgr,
		Limiter:       limiter,
		GoogleEnabled: googleEnabled,
	}
}

// loginView describes the login view for the UI.
type loginView struct {
	Session       session.Session `json:"session"`
	ReturnURL     string          `json:"return"`
	GoogleEnabled bool            `json:"google_enabled"`
	Error         string          `json:"error,omitempty"`
}

type loginResult struct {
	Session  session.Session `json:"session"`
	Redirect string          `json:"redirect"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Return   string `json:"return"`
}

// ServeLogin handles GET /login.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	uierrors.WriteJSON(w, http.StatusOK, loginView{
		Session:       auth.CurrentSession(r),
		ReturnURL:     urlutil.SafeReturn(query.Get(r, "return"), "", authz.DefaultPath),
		GoogleEnabled: h.GoogleEnabled,
		Error:         query.Get(r, "error"),
	})
}

// HandleLoginPost handles POST /login with a JSON or form body.
func (h *Handler) HandleLoginPost(w http.ResponseWriter, r *http.Request) {
	c, ok := auth.ClientFrom(r)
	if !ok {
		uierrors.Write(w, http.StatusInternalServerError, uierrors.CodeInternal, "no session")
		return
	}

	in, err := decode(w, r)
	if err != nil {
		uierrors.Write(w, http.StatusBadRequest, uierrors.CodeBadRequest, "Malformed sign-in request.")
		return
	}
	in.Email = normalize.Email(in.Email)

	ve := &apperr.ValidationError{}
	ve.Require("email", in.Email)
	ve.Require("password", in.Password)
	if err := ve.OrNil(); err != nil {
		uierrors.FromError(w, r, h.Log, err)
		return
	}

	if h.Limiter != nil {
		if msg := h.Limiter.Check(r, in.Email); msg != "" {
			h.Log.Warn("login rate limited",
				zap.String("ip", ratelimit.ClientIP(r)),
				zap.String("email", in.Email))
			uierrors.Write(w, http.StatusTooManyRequests, uierrors.CodeRateLimited, msg)
			return
		}
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Lookup(), h.Log, "login")
	defer cancel()

	s, err := c.Session().Login(ctx, session.Credentials{Email: in.Email, Password: in.Password})
	if err != nil {
		h.Log.Info("login failed", zap.String("email", in.Email), zap.Error(err))
		uierrors.FromError(w, r, h.Log, err)
		return
	}

	if h.Limiter != nil {
		h.Limiter.ResetEmail(in.Email)
	}
	if err := h.SessionMgr.SaveClient(w, r, c); err != nil {
		h.Log.Error("login: save session cookie", zap.Error(err))
		uierrors.FromError(w, r, h.Log, err)
		return
	}

	h.Log.Info("user signed in",
		zap.String("user_id", s.UserID()),
		zap.Strings("roles", s.Roles),
		zap.String("warning", s.Warning))

	Finish(w, r, s, urlutil.SafeReturn(in.Return, "", authz.DefaultPath))
}

// Finish completes a sign-in: browsers are sent to dest, API callers get
// the session and dest as JSON.
func Finish(w http.ResponseWriter, r *http.Request, s session.Session, dest string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", dest)
		w.WriteHeader(http.StatusOK)
		return
	}
	if uierrors.WantsHTML(r) {
		http.Redirect(w, r, dest, http.StatusSeeOther)
		return
	}
	uierrors.WriteJSON(w, http.StatusOK, loginResult{Session: s, Redirect: dest})
}

func decode(w http.ResponseWriter, r *http.Request) (credentials, error) {
	var in credentials
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&in)
		return in, err
	}
	if err := r.ParseForm(); err != nil {
		return in, err
	}
	in.Email = r.PostFormValue("email")
	in.Password = r.PostFormValue("password")
	in.Return = r.PostFormValue("return")
	return in, nil
}
