package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
)

type fakeAccount struct {
	identity session.Identity
	password string
}

// FakeProvider is an in-memory identity provider. Events are emitted
// synchronously and stamped with a strictly increasing clock.
type FakeProvider struct {
	mu        sync.Mutex
	accounts  map[string]fakeAccount
	current   *session.Identity
	persisted *session.Identity
	listeners map[int]session.Listener
	next      int
	last      time.Time

	// SignOutErr and RecoverErr, when set, are returned by the matching call.
	SignOutErr error
	RecoverErr error
	// DeferSignOut holds the SignedOut event until FlushSignOut is called.
	DeferSignOut bool
	held         []session.Event
	// AfterSignOut runs after SignOut has emitted (or held) its event and
	// before it returns.
	AfterSignOut func(ctx context.Context)

	token       string
	expires     time.Time
	invalidated bool
	closed      bool
}

// NewFakeProvider returns an empty provider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		accounts:  make(map[string]fakeAccount),
		listeners: make(map[int]session.Listener),
	}
}

// AddUser registers an account.
func (p *FakeProvider) AddUser(id, email, password string) session.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	ident := session.Identity{ID: id, Email: email}
	p.accounts[email] = fakeAccount{identity: ident, password: password}
	return ident
}

// Persist makes Recover report ident as the existing session.
func (p *FakeProvider) Persist(ident *session.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persisted = ident
	p.current = ident
	if ident != nil {
		p.token = "tok-" + ident.ID
		p.expires = time.Now().Add(time.Hour)
	}
}

// Tick returns the next provider timestamp.
func (p *FakeProvider) Tick() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tickLocked()
}

func (p *FakeProvider) tickLocked() time.Time {
	now := time.Now()
	if !now.After(p.last) {
		now = p.last.Add(time.Nanosecond)
	}
	p.last = now
	return now
}

func (p *FakeProvider) Authenticate(ctx context.Context, creds session.Credentials) error {
	p.mu.Lock()
	acct, ok := p.accounts[creds.Email]
	valid := ok && acct.password == creds.Password
	if creds.OAuthCode != "" {
		// OAuth codes are "code-<email>".
		email, found := strings.CutPrefix(creds.OAuthCode, "code-")
		acct, ok = p.accounts[email]
		valid = found && ok
	}
	if !valid {
		p.mu.Unlock()
		return apperr.Auth("invalid credentials", nil)
	}
	ident := acct.identity
	p.current = &ident
	p.persisted = &ident
	p.token = "tok-" + ident.ID
	p.expires = time.Now().Add(time.Hour)
	ev := session.Event{Kind: session.EventSignedIn, Identity: &ident, At: p.tickLocked()}
	p.mu.Unlock()

	p.Emit(ctx, ev)
	return nil
}

func (p *FakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	if p.SignOutErr != nil {
		err := p.SignOutErr
		p.mu.Unlock()
		return err
	}
	p.current = nil
	p.persisted = nil
	p.token = ""
	ev := session.Event{Kind: session.EventSignedOut, At: p.tickLocked()}
	after := p.AfterSignOut
	deferred := p.DeferSignOut
	if deferred {
		p.held = append(p.held, ev)
	}
	p.mu.Unlock()

	if !deferred {
		p.Emit(ctx, ev)
	}
	if after != nil {
		after(ctx)
	}
	return nil
}

// FlushSignOut delivers SignedOut events held by DeferSignOut.
func (p *FakeProvider) FlushSignOut(ctx context.Context) {
	p.mu.Lock()
	held := p.held
	p.held = nil
	p.mu.Unlock()
	for _, ev := range held {
		p.Emit(ctx, ev)
	}
}

func (p *FakeProvider) Recover(ctx context.Context) (session.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RecoverErr != nil {
		return session.Event{}, p.RecoverErr
	}
	return session.Event{Kind: session.EventInitialSession, Identity: p.persisted, At: p.tickLocked()}, nil
}

func (p *FakeProvider) OnIdentityChange(l session.Listener) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = l
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Emit delivers ev to every listener, as if the provider pushed it.
func (p *FakeProvider) Emit(ctx context.Context, ev session.Event) {
	p.mu.Lock()
	ls := make([]session.Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		ls = append(ls, l)
	}
	p.mu.Unlock()
	for _, l := range ls {
		l(ctx, ev)
	}
}

// Token returns the current provider token, or "" when signed out.
func (p *FakeProvider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// ExpiresAt returns the expiry of the current token.
func (p *FakeProvider) ExpiresAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expires
}

// SetExpiry overrides the expiry of the current token.
func (p *FakeProvider) SetExpiry(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expires = t
}

// Invalidate makes the next Refresh fail as if the token was revoked.
func (p *FakeProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated = true
}

// Refresh extends the token and emits TokenRefreshed. A revoked token
// emits SignedOut instead and returns an AuthError.
func (p *FakeProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return nil
	}
	if p.invalidated {
		p.current = nil
		p.persisted = nil
		p.token = ""
		ev := session.Event{Kind: session.EventSignedOut, At: p.tickLocked()}
		p.mu.Unlock()
		p.Emit(ctx, ev)
		return apperr.Auth("token revoked", nil)
	}
	p.expires = time.Now().Add(time.Hour)
	ident := *p.current
	ev := session.Event{Kind: session.EventTokenRefreshed, Identity: &ident, At: p.tickLocked()}
	p.mu.Unlock()
	p.Emit(ctx, ev)
	return nil
}

// Close drops every listener.
func (p *FakeProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.listeners = make(map[int]session.Listener)
}

// Closed reports whether Close ran.
func (p *FakeProvider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Listeners returns the number of registered listeners.
func (p *FakeProvider) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// StaticRoles is a RoleResolver backed by a map.
type StaticRoles struct {
	mu     sync.Mutex
	byUser map[string][]string
	err    error
	calls  int
}

// NewStaticRoles returns a resolver that knows no users.
func NewStaticRoles() *StaticRoles {
	return &StaticRoles{byUser: make(map[string][]string)}
}

// Set assigns roles to userID.
func (r *StaticRoles) Set(userID string, roles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[userID] = roles
}

// Fail makes every lookup return err (nil restores normal behavior).
func (r *StaticRoles) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Calls returns the number of lookups so far.
func (r *StaticRoles) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *StaticRoles) ResolveRoles(ctx context.Context, id session.Identity) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, &apperr.LookupError{UserID: id.ID, Err: r.err}
	}
	return session.NormalizeRoles(r.byUser[id.ID]), nil
}
