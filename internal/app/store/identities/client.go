package identities

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"go.uber.org/zap"
)

// Authority is the part of Service a Client talks to.
type Authority interface {
	Authenticate(ctx context.Context, creds session.Credentials) (Grant, error)
	Verify(ctx context.Context, token string) (Grant, error)
	Refresh(ctx context.Context, token string) (Grant, error)
	Revoke(ctx context.Context, token string) error
}

// Client is the provider as seen by one desk client. It holds that
// client's token and pushes identity events to the session store.
//
// Events are stamped with a per-client clock that never goes backwards,
// so the session store can order them even when two arrive within the
// same clock tick.
type Client struct {
	auth Authority
	log  *zap.Logger

	mu        sync.Mutex
	token     string
	expires   time.Time
	identity  *session.Identity
	listeners map[int]session.Listener
	next      int
	last      time.Time
	closed    bool
}

// NewClient returns a provider client resuming token, which may be "".
func NewClient(auth Authority, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		auth:      auth,
		log:       logger,
		token:     token,
		listeners: make(map[int]session.Listener),
	}
}

func (c *Client) tickLocked() time.Time {
	now := time.Now()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}

func (c *Client) emit(ctx context.Context, ev session.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ls := make([]session.Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.Unlock()
	for _, l := range ls {
		l(ctx, ev)
	}
}

func (c *Client) setGrant(g Grant) *session.Identity {
	id := g.Identity
	c.token = g.Token
	c.expires = g.ExpiresAt
	c.identity = &id
	return &id
}

func (c *Client) clearLocked() {
	c.token = ""
	c.expires = time.Time{}
	c.identity = nil
}

// Authenticate signs in and emits SIGNED_IN. Any token held before is
// replaced but not revoked.
func (c *Client) Authenticate(ctx context.Context, creds session.Credentials) error {
	g, err := c.auth.Authenticate(ctx, creds)
	if err != nil {
		return err
	}
	c.mu.Lock()
	id := c.setGrant(g)
	ev := session.Event{Kind: session.EventSignedIn, Identity: id, At: c.tickLocked()}
	c.mu.Unlock()

	c.emit(ctx, ev)
	return nil
}

// SignOut revokes the token and emits SIGNED_OUT. A revoke failure is
// returned and the client stays signed in.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	if err := c.auth.Revoke(ctx, tok); err != nil {
		return apperr.Auth("sign out", err)
	}

	c.mu.Lock()
	c.clearLocked()
	ev := session.Event{Kind: session.EventSignedOut, At: c.tickLocked()}
	c.mu.Unlock()

	c.emit(ctx, ev)
	return nil
}

// Recover verifies the resumed token. An invalid token is not an error:
// it yields an event without identity and is forgotten.
func (c *Client) Recover(ctx context.Context) (session.Event, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	if tok == "" {
		c.mu.Lock()
		defer c.mu.Unlock()
		return session.Event{Kind: session.EventInitialSession, At: c.tickLocked()}, nil
	}

	g, err := c.auth.Verify(ctx, tok)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil:
		id := c.setGrant(g)
		return session.Event{Kind: session.EventInitialSession, Identity: id, At: c.tickLocked()}, nil
	case apperr.IsAuth(err):
		c.log.Debug("persisted token rejected", zap.Error(err))
		c.clearLocked()
		return session.Event{Kind: session.EventInitialSession, At: c.tickLocked()}, nil
	default:
		return session.Event{}, err
	}
}

func (c *Client) OnIdentityChange(l session.Listener) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	c.listeners[id] = l
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Refresh extends the token and emits TOKEN_REFRESHED. A token the
// service no longer honors emits SIGNED_OUT and returns the AuthError.
// Other failures are returned and leave the client as it was.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	if tok == "" {
		return nil
	}

	g, err := c.auth.Refresh(ctx, tok)
	if err != nil {
		if !apperr.IsAuth(err) {
			return err
		}
		c.mu.Lock()
		c.clearLocked()
		ev := session.Event{Kind: session.EventSignedOut, At: c.tickLocked()}
		c.mu.Unlock()
		c.log.Info("token invalidated; signing out", zap.Error(err))
		c.emit(ctx, ev)
		return err
	}

	c.mu.Lock()
	id := c.setGrant(g)
	ev := session.Event{Kind: session.EventTokenRefreshed, Identity: id, At: c.tickLocked()}
	c.mu.Unlock()
	c.emit(ctx, ev)
	return nil
}

// Token returns the token to persist in the browser, or "".
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// ExpiresAt returns the expiry of the current token.
func (c *Client) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expires
}

// Close drops every listener. The token stays valid at the service.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.listeners = make(map[int]session.Listener)
}
