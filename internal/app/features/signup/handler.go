// internal/app/features/signup/handler.go
package signup

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"

	uierrors "github.com/dalemusser/opsdesk/internal/app/features/errors"
	"github.com/dalemusser/opsdesk/internal/app/features/login"
	"github.com/dalemusser/opsdesk/internal/app/system/accounts"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/app/system/authz"
	"github.com/dalemusser/opsdesk/internal/app/system/normalize"
	"github.com/dalemusser/opsdesk/internal/app/system/ratelimit"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"go.uber.org/zap"
)

const maxBody = 16 << 10

// Registrar creates accounts.
type Registrar interface {
	Create(ctx context.Context, in accounts.NewUser) (accounts.Created, error)
}

type Handler struct {
	Log        *zap.Logger
	SessionMgr *auth.SessionManager
	Accounts   Registrar
	Limiter    *ratelimit.LoginLimiter
	Enabled    bool
}

func NewHandler(sessionMgr *auth.SessionManager, accts Registrar, limiter *ratelimit.LoginLimiter, enabled bool, logger *zap.Logger) *Handler {
	return &Handler{
		Log:        logger,
		SessionMgr: sessionMgr,
		Accounts:   accts,
		Limiter:    limiter,
		Enabled:    enabled,
	}
}

type signupView struct {
	Session           session.Session `json:"session"`
	Enabled           bool            `json:"enabled"`
	MinPasswordLength int             `json:"min_password_length"`
}

type registration struct {
	Email    string `json:"email"`
	Name     string `json:"full_name"`
	Password string `json:"password"`
}

// ServeSignup handles GET /signup.
func (h *Handler) ServeSignup(w http.ResponseWriter, r *http.Request) {
	uierrors.WriteJSON(w, http.StatusOK, signupView{
		Session:           auth.CurrentSession(r),
		Enabled:           h.Enabled,
		MinPasswordLength: accounts.MinPasswordLength,
	})
}

// HandleSignup handles POST /signup. The new account is a password
// account with no roles; the caller is then signed in through the
// session store like any other login.
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if !h.Enabled {
		uierrors.Write(w, http.StatusNotFound, uierrors.CodeNotFound, "Registration is closed.")
		return
	}
	c, ok := auth.ClientFrom(r)
	if !ok {
		uierrors.Write(w, http.StatusInternalServerError, uierrors.CodeInternal, "no session")
		return
	}

	in, err := decode(w, r)
	if err != nil {
		uierrors.Write(w, http.StatusBadRequest, uierrors.CodeBadRequest, "Malformed sign-up request.")
		return
	}
	in.Email = normalize.Email(in.Email)

	if h.Limiter != nil {
		if msg := h.Limiter.Check(r, in.Email); msg != "" {
			h.Log.Warn("signup rate limited",
				zap.String("ip", ratelimit.ClientIP(r)),
				zap.String("email", in.Email))
			uierrors.Write(w, http.StatusTooManyRequests, uierrors.CodeRateLimited, msg)
			return
		}
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Lookup(), h.Log, "signup")
	defer cancel()

	created, err := h.Accounts.Create(ctx, accounts.NewUser{
		Email:      in.Email,
		FullName:   in.Name,
		Password:   in.Password,
		AuthMethod: models.AuthMethodPassword,
	})
	if err != nil {
		uierrors.FromError(w, r, h.Log, err)
		return
	}

	s, err := c.Session().Login(ctx, session.Credentials{Email: created.User.Email, Password: in.Password})
	if err != nil {
		h.Log.Warn("signup: account created but sign-in failed",
			zap.String("email", created.User.Email),
			zap.Error(err))
		uierrors.FromError(w, r, h.Log, err)
		return
	}
	if err := h.SessionMgr.SaveClient(w, r, c); err != nil {
		h.Log.Error("signup: save session cookie", zap.Error(err))
		uierrors.FromError(w, r, h.Log, err)
		return
	}

	h.Log.Info("user registered",
		zap.String("user_id", s.UserID()),
		zap.String("email", created.User.Email))
	login.Finish(w, r, s, authz.DefaultPath)
}

func decode(w http.ResponseWriter, r *http.Request) (registration, error) {
	var in registration
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
	in.Name = r.PostFormValue("full_name")
	in.Password = r.PostFormValue("password")
	return in, nil
}
