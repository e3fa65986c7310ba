// internal/app/system/auth/auth.go
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/system/desk"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Cookie layout                                                              |
*─────────────────────────────────────────────────────────────────────────────*/

const (
	// DefaultSessionName is the cookie name when none is configured.
	DefaultSessionName = "opsdesk-session"

	clientIDKey = "client_id"
	tokenKey    = "token"
)

// SessionManager persists the desk client id and the identity-provider
// token in a signed cookie. Everything else about the session lives
// server side in the desk client.
type SessionManager struct {
	store *sessions.CookieStore
	name  string
	log   *zap.Logger
}

// NewSessionManager builds the cookie store.
//
// In production (secure=true) cookies are Secure with SameSite=None; over
// plain http on localhost use secure=false so the browser keeps them.
func NewSessionManager(sessionKey, name, domain string, maxAge time.Duration, secure bool, logger *zap.Logger) (*SessionManager, error) {
	if sessionKey == "" {
		return nil, fmt.Errorf("session key is empty; provide ≥32 random chars")
	}
	if len(sessionKey) < 32 {
		logger.Warn("session key is short; 32+ chars recommended",
			zap.Int("length", len(sessionKey)))
	}
	if name == "" {
		name = DefaultSessionName
	}

	store := sessions.NewCookieStore([]byte(sessionKey))
	opts := &sessions.Options{
		Domain:   domain,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		Secure:   secure,
		HttpOnly: true,
	}
	if secure {
		opts.SameSite = http.SameSiteNoneMode
	} else {
		opts.SameSite = http.SameSiteLaxMode
	}
	store.Options = opts

	logger.Info("session store initialized",
		zap.String("name", name),
		zap.Bool("secure", secure),
		zap.String("domain", domain),
		zap.Duration("max_age", maxAge))

	return &SessionManager{store: store, name: name, log: logger}, nil
}

// Name returns the cookie name.
func (sm *SessionManager) Name() string { return sm.name }

// ClientRef is what the cookie carries.
type ClientRef struct {
	ClientID string
	Token    string
}

// Ref reads the cookie. A missing or tampered cookie yields a zero ClientRef.
func (sm *SessionManager) Ref(r *http.Request) ClientRef {
	sess, err := sm.store.Get(r, sm.name)
	if err != nil {
		sm.log.Debug("session cookie unreadable; starting fresh", zap.Error(err))
	}
	return ClientRef{
		ClientID: getString(sess, clientIDKey),
		Token:    getString(sess, tokenKey),
	}
}

// SaveClient writes c's id and current provider token to the cookie. Call
// it after anything that changes the token: login, logout, recovery.
func (sm *SessionManager) SaveClient(w http.ResponseWriter, r *http.Request, c *desk.Client) error {
	sess, _ := sm.store.Get(r, sm.name)
	sess.Values[clientIDKey] = c.ID()
	if tok := c.Provider().Token(); tok != "" {
		sess.Values[tokenKey] = tok
	} else {
		delete(sess.Values, tokenKey)
	}
	return sess.Save(r, w)
}

// Clear expires the cookie.
func (sm *SessionManager) Clear(w http.ResponseWriter, r *http.Request) error {
	sess, _ := sm.store.Get(r, sm.name)
	sess.Values = map[any]any{}
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Client loading                                                             |
*─────────────────────────────────────────────────────────────────────────────*/

// LoadClient puts the caller's desk client into the request context. A
// known client id is reused; otherwise a new client is created from the
// cookie's token, recovering the provider session, and the cookie is
// rewritten to point at it.
func (sm *SessionManager) LoadClient(reg *desk.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ref := sm.Ref(r)

			c, ok := reg.Get(ref.ClientID)
			if !ok {
				ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Lookup(), sm.log, "recover session")
				c = reg.Create(ctx, ref.Token)
				cancel()
				sm.log.Debug("desk client created",
					zap.String("client_id", c.ID()),
					zap.Bool("had_token", ref.Token != ""),
					zap.String("status", c.Session().Get().Status.String()))
			}

			// Keep the cookie in step with the provider. A token dropped by
			// recovery or the refresher is removed from the browser too.
			if !ok || c.Provider().Token() != ref.Token {
				if err := sm.SaveClient(w, r, c); err != nil {
					sm.log.Warn("session cookie save failed", zap.Error(err))
				}
			}

			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), c)))
		})
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Context helpers                                                            |
*─────────────────────────────────────────────────────────────────────────────*/

type ctxKey string

const clientKey ctxKey = "deskClient"

// WithClient returns ctx carrying c.
func WithClient(ctx context.Context, c *desk.Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

// ClientFrom returns the desk client loaded for r.
func ClientFrom(r *http.Request) (*desk.Client, bool) {
	c, ok := r.Context().Value(clientKey).(*desk.Client)
	return c, ok && c != nil
}

// CurrentSession returns the session snapshot of r's client, or an
// anonymous session when no client is loaded.
func CurrentSession(r *http.Request) session.Session {
	if c, ok := ClientFrom(r); ok {
		return c.Session().Get()
	}
	return session.Session{Status: session.StatusAnonymous, Roles: []string{}}
}

// getString safely extracts a string from a session value.
func getString(s *sessions.Session, key string) string {
	if s == nil {
		return ""
	}
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return ""
}
