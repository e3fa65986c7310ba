package identities_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/store/identities"
	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/desk"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/testutil"
)

var _ desk.Provider = (*identities.Client)(nil)

// memAuthority is an Authority with tokens kept in a map.
type memAuthority struct {
	mu        sync.Mutex
	passwords map[string]session.Identity
	tokens    map[string]session.Identity
	n         int
	revokeErr error
	verifyErr error
}

func newMemAuthority() *memAuthority {
	return &memAuthority{
		passwords: map[string]session.Identity{},
		tokens:    map[string]session.Identity{},
	}
}

func (a *memAuthority) grant(id session.Identity) identities.Grant {
	a.n++
	tok := "tok-" + id.ID + "-" + string(rune('a'+a.n))
	a.tokens[tok] = id
	now := time.Now()
	return identities.Grant{Identity: id, Token: tok, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
}

func (a *memAuthority) Authenticate(ctx context.Context, creds session.Credentials) (identities.Grant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.passwords[creds.Email+"/"+creds.Password]
	if !ok {
		return identities.Grant{}, apperr.Auth("invalid credentials", nil)
	}
	return a.grant(id), nil
}

func (a *memAuthority) Verify(ctx context.Context, tok string) (identities.Grant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.verifyErr != nil {
		return identities.Grant{}, a.verifyErr
	}
	id, ok := a.tokens[tok]
	if !ok {
		return identities.Grant{}, apperr.Auth("token invalid", nil)
	}
	return identities.Grant{Identity: id, Token: tok, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (a *memAuthority) Refresh(ctx context.Context, tok string) (identities.Grant, error) {
	g, err := a.Verify(ctx, tok)
	if err != nil {
		return g, err
	}
	g.ExpiresAt = time.Now().Add(2 * time.Hour)
	return g, nil
}

func (a *memAuthority) Revoke(ctx context.Context, tok string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.revokeErr != nil {
		return a.revokeErr
	}
	delete(a.tokens, tok)
	return nil
}

func (a *memAuthority) revokeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens = map[string]session.Identity{}
}

type eventLog struct {
	mu     sync.Mutex
	events []session.Event
}

func (l *eventLog) listen(ctx context.Context, ev session.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []session.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]session.EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestClient_AuthenticateEmitsSignedIn(t *testing.T) {
	auth := newMemAuthority()
	auth.passwords["ann@example.com/pw"] = session.Identity{ID: "u1", Email: "ann@example.com"}
	c := identities.NewClient(auth, "", nil)
	var log eventLog
	c.OnIdentityChange(log.listen)

	err := c.Authenticate(context.Background(), session.Credentials{Email: "ann@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if c.Token() == "" {
		t.Error("expected a token")
	}
	if c.ExpiresAt().IsZero() {
		t.Error("expected an expiry")
	}
	got := log.kinds()
	if len(got) != 1 || got[0] != session.EventSignedIn {
		t.Fatalf("events: got %v", got)
	}

	err = c.Authenticate(context.Background(), session.Credentials{Email: "ann@example.com", Password: "nope"})
	if !apperr.IsAuth(err) {
		t.Errorf("expected AuthError, got %v", err)
	}
	if len(log.kinds()) != 1 {
		t.Error("failed sign-in must not emit")
	}
}

func TestClient_EventTimesIncrease(t *testing.T) {
	auth := newMemAuthority()
	auth.passwords["a/pw"] = session.Identity{ID: "u1"}
	c := identities.NewClient(auth, "", nil)
	var log eventLog
	c.OnIdentityChange(log.listen)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = c.Authenticate(ctx, session.Credentials{Email: "a", Password: "pw"})
		_ = c.Refresh(ctx)
		_ = c.SignOut(ctx)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	for i := 1; i < len(log.events); i++ {
		if !log.events[i].At.After(log.events[i-1].At) {
			t.Fatalf("event %d at %v not after %v", i, log.events[i].At, log.events[i-1].At)
		}
	}
}

func TestClient_Recover(t *testing.T) {
	auth := newMemAuthority()
	id := session.Identity{ID: "u1", Email: "a@example.com"}
	auth.tokens["saved"] = id

	t.Run("valid token", func(t *testing.T) {
		c := identities.NewClient(auth, "saved", nil)
		ev, err := c.Recover(context.Background())
		if err != nil {
			t.Fatalf("Recover failed: %v", err)
		}
		if ev.Kind != session.EventInitialSession || ev.Identity == nil || *ev.Identity != id {
			t.Errorf("event: got %+v", ev)
		}
	})

	t.Run("no token", func(t *testing.T) {
		c := identities.NewClient(auth, "", nil)
		ev, err := c.Recover(context.Background())
		if err != nil || ev.Identity != nil {
			t.Errorf("got %+v, %v; want anonymous", ev, err)
		}
	})

	t.Run("revoked token", func(t *testing.T) {
		c := identities.NewClient(auth, "gone", nil)
		ev, err := c.Recover(context.Background())
		if err != nil || ev.Identity != nil {
			t.Errorf("got %+v, %v; want anonymous", ev, err)
		}
		if c.Token() != "" {
			t.Error("rejected token should be forgotten")
		}
	})

	t.Run("store failure", func(t *testing.T) {
		failing := newMemAuthority()
		failing.verifyErr = errors.New("db down")
		c := identities.NewClient(failing, "saved", nil)
		if _, err := c.Recover(context.Background()); err == nil {
			t.Error("expected error")
		}
		if c.Token() != "saved" {
			t.Error("token must be kept on a transient failure")
		}
	})
}

func TestClient_RefreshAfterRevocationSignsOut(t *testing.T) {
	auth := newMemAuthority()
	auth.passwords["a/pw"] = session.Identity{ID: "u1"}
	c := identities.NewClient(auth, "", nil)
	var log eventLog
	c.OnIdentityChange(log.listen)
	ctx := context.Background()

	if err := c.Authenticate(ctx, session.Credentials{Email: "a", Password: "pw"}); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	auth.revokeAll()
	if err := c.Refresh(ctx); !apperr.IsAuth(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	want := []session.EventKind{session.EventSignedIn, session.EventTokenRefreshed, session.EventSignedOut}
	got := log.kinds()
	if len(got) != len(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if c.Token() != "" {
		t.Error("token should be cleared")
	}
	// Signed out: nothing to refresh.
	if err := c.Refresh(ctx); err != nil {
		t.Errorf("Refresh while signed out: %v", err)
	}
}

func TestClient_SignOutFailureKeepsToken(t *testing.T) {
	auth := newMemAuthority()
	auth.passwords["a/pw"] = session.Identity{ID: "u1"}
	c := identities.NewClient(auth, "", nil)
	ctx := context.Background()
	_ = c.Authenticate(ctx, session.Credentials{Email: "a", Password: "pw"})
	tok := c.Token()

	auth.revokeErr = errors.New("db down")
	if err := c.SignOut(ctx); !apperr.IsAuth(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if c.Token() != tok {
		t.Error("token must survive a failed sign-out")
	}
}

func TestClient_DrivesSessionStore(t *testing.T) {
	auth := newMemAuthority()
	auth.passwords["ann@example.com/pw"] = session.Identity{ID: "u1", Email: "ann@example.com"}
	roles := testutil.NewStaticRoles()
	roles.Set("u1", "Manager")

	c := identities.NewClient(auth, "", nil)
	store := session.New(c, roles, nil)
	defer store.Close()
	ctx := context.Background()

	if err := store.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := store.Get().Status; got != session.StatusAnonymous {
		t.Fatalf("status: got %v, want anonymous", got)
	}

	s, err := store.Login(ctx, session.Credentials{Email: "ann@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !s.Authenticated() || !s.HasRole("manager") {
		t.Errorf("session: got %+v", s)
	}

	auth.revokeAll()
	_ = c.Refresh(ctx)
	if got := store.Get(); got.Status != session.StatusAnonymous || len(got.Roles) != 0 {
		t.Errorf("after revocation: got %+v", got)
	}
}

func TestClient_CloseStopsEvents(t *testing.T) {
	auth := newMemAuthority()
	auth.passwords["a/pw"] = session.Identity{ID: "u1"}
	c := identities.NewClient(auth, "", nil)
	var log eventLog
	c.OnIdentityChange(log.listen)

	c.Close()
	_ = c.Authenticate(context.Background(), session.Credentials{Email: "a", Password: "pw"})
	if n := len(log.kinds()); n != 0 {
		t.Errorf("events after Close: got %d", n)
	}
}
