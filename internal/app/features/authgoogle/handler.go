// internal/app/features/authgoogle/handler.go
package authgoogle

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/features/login"
	"github.com/dalemusser/opsdesk/internal/app/store/oauthstate"
	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/app/system/authz"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/dalemusser/waffle/pantry/urlutil"
	"go.uber.org/zap"
)

// Consent builds the provider's consent URL for a state value.
// *identities.Google satisfies it.
type Consent interface {
	AuthCodeURL(state string) string
}

// StateStore holds one-time OAuth state values. *oauthstate.Store
// satisfies it.
type StateStore interface {
	Save(ctx context.Context, state, returnURL string, expiresAt time.Time) error
	Validate(ctx context.Context, state string) (returnURL string, valid bool, err error)
}

// Handler handles Google sign-in. The code exchange itself happens in the
// identity provider; this handler only guards the redirect round trip and
// hands the code to the client's Session Store.
type Handler struct {
	Log        *zap.Logger
	SessionMgr *auth.SessionManager
	States     StateStore
	Google     Consent // nil when Google sign-in is not configured
}

// NewHandler creates a new Google sign-in handler. google may be nil.
func NewHandler(sessionMgr *auth.SessionManager, states StateStore, google Consent, logger *zap.Logger) *Handler {
	return &Handler{
		Log:        logger,
		SessionMgr: sessionMgr,
		States:     states,
		Google:     google,
	}
}

// IsConfigured reports whether Google sign-in is available.
func (h *Handler) IsConfigured() bool { return h.Google != nil }

/*─────────────────────────────────────────────────────────────────────────────*
| GET /login/google                                                           |
| Starts the flow by redirecting to Google's consent screen.                  |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if !h.IsConfigured() {
		h.Log.Warn("Google sign-in not configured")
		redirectToLogin(w, r, "google_not_configured")
		return
	}

	state, err := oauthstate.NewState()
	if err != nil {
		h.Log.Error("failed to generate OAuth state", zap.Error(err))
		redirectToLogin(w, r, "internal")
		return
	}
	returnURL := urlutil.SafeReturn(query.Get(r, "return"), "", authz.DefaultPath)

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Write(), h.Log, "save oauth state")
	defer cancel()

	expiresAt := time.Now().UTC().Add(oauthstate.DefaultTTL)
	if err := h.States.Save(ctx, state, returnURL, expiresAt); err != nil {
		h.Log.Error("failed to save OAuth state", zap.Error(err))
		redirectToLogin(w, r, "internal")
		return
	}

	h.Log.Debug("initiating Google sign-in", zap.String("return_url", returnURL))
	http.Redirect(w, r, h.Google.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /login/google/callback                                                  |
| Checks the state, then signs in through the Session Store with the code.    |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	if errParam := query.Get(r, "error"); errParam != "" {
		h.Log.Warn("Google sign-in error",
			zap.String("error", errParam),
			zap.String("description", query.Get(r, "error_description")))
		redirectToLogin(w, r, "google_denied")
		return
	}

	state := query.Get(r, "state")
	if state == "" {
		h.Log.Warn("missing OAuth state parameter")
		redirectToLogin(w, r, "invalid_state")
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Lookup(), h.Log, "google callback")
	defer cancel()

	returnURL, valid, err := h.States.Validate(ctx, state)
	if err != nil {
		h.Log.Error("failed to validate OAuth state", zap.Error(err))
		redirectToLogin(w, r, "internal")
		return
	}
	if !valid {
		h.Log.Warn("invalid or expired OAuth state")
		redirectToLogin(w, r, "invalid_state")
		return
	}

	code := query.Get(r, "code")
	if code == "" {
		h.Log.Warn("missing OAuth code parameter")
		redirectToLogin(w, r, "invalid_code")
		return
	}

	c, ok := auth.ClientFrom(r)
	if !ok {
		redirectToLogin(w, r, "internal")
		return
	}

	s, err := c.Session().Login(ctx, session.Credentials{OAuthCode: code})
	if err != nil {
		reason := failureCode(err)
		h.Log.Info("Google sign-in failed", zap.String("reason", reason), zap.Error(err))
		redirectToLogin(w, r, reason)
		return
	}

	if err := h.SessionMgr.SaveClient(w, r, c); err != nil {
		h.Log.Error("google: save session cookie", zap.Error(err))
		redirectToLogin(w, r, "internal")
		return
	}

	h.Log.Info("user signed in with Google",
		zap.String("user_id", s.UserID()),
		zap.Strings("roles", s.Roles))

	login.Finish(w, r, s, urlutil.SafeReturn(returnURL, "", authz.DefaultPath))
}

// failureCode names a failed sign-in for the login view.
func failureCode(err error) string {
	var ae *apperr.AuthError
	if !errors.As(err, &ae) {
		return "internal"
	}
	switch ae.Reason {
	case "account disabled":
		return "account_disabled"
	case "google sign-in failed":
		return "token_exchange"
	case "sign in":
		// A non-auth failure wrapped by the Session Store.
		return "internal"
	}
	return "no_account"
}

func redirectToLogin(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, authz.LoginPath+"?error="+url.QueryEscape(code), http.StatusSeeOther)
}
