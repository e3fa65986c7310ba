package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Store owns the session of one client.
//
// Transitions hold applyMu for their whole duration, including the role
// lookup, so they are applied strictly one after another. Subscriber
// callbacks run synchronously inside a transition and must not call
// Login, Logout or OnIdentityChanged.
type Store struct {
	provider Provider
	resolver RoleResolver
	log      *zap.Logger

	applyMu   sync.Mutex
	lastAt    time.Time
	published uint64 // snapshots published so far; guarded by applyMu

	mu      sync.RWMutex
	current Session
	subs    map[int]func(Session)
	nextSub int

	unlisten func()
}

// New builds a Store and registers it with the provider. The session
// starts UNINITIALIZED until Initialize runs.
func New(p Provider, r RoleResolver, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		provider: p,
		resolver: r,
		log:      logger,
		current:  Session{Status: StatusUninitialized, Roles: []string{}},
		subs:     make(map[int]func(Session)),
	}
	s.unlisten = p.OnIdentityChange(func(ctx context.Context, ev Event) {
		s.OnIdentityChanged(ctx, ev)
	})
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers cb for every published snapshot.
func (s *Store) Subscribe(cb func(Session)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = cb
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Initialize recovers a persisted session. The store passes through
// AUTHENTICATING and ends AUTHENTICATED or ANONYMOUS. A provider failure
// leaves the session ANONYMOUS and is returned as an AuthError.
func (s *Store) Initialize(ctx context.Context) error {
	s.applyMu.Lock()
	if s.Get().Status == StatusUninitialized {
		s.publish(Session{Status: StatusAuthenticating, Roles: []string{}})
	}
	s.applyMu.Unlock()

	ev, err := s.provider.Recover(ctx)
	if err != nil {
		s.log.Warn("session recovery failed", zap.Error(err))
		s.OnIdentityChanged(ctx, Event{Kind: EventSignedOut})
		var ae *apperr.AuthError
		if errors.As(err, &ae) {
			return err
		}
		return apperr.Auth("recover session", err)
	}
	ev.Kind = EventInitialSession
	s.OnIdentityChanged(ctx, ev)
	return nil
}

// OnIdentityChanged applies a provider event. It is idempotent: repeating
// an event, or signing in again as the current identity, publishes
// nothing. Events older than the newest applied one are dropped.
func (s *Store) OnIdentityChanged(ctx context.Context, ev Event) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.applyLocked(ctx, ev)
}

// applyLocked runs one transition. The caller holds applyMu.
func (s *Store) applyLocked(ctx context.Context, ev Event) {
	if !ev.At.IsZero() {
		if ev.At.Before(s.lastAt) {
			s.log.Debug("dropping stale identity event",
				zap.Stringer("kind", ev.Kind),
				zap.Time("at", ev.At),
				zap.Time("last_at", s.lastAt))
			return
		}
		s.lastAt = ev.At
	}

	cur := s.Get()

	if ev.Kind == EventSignedOut || ev.Identity == nil {
		if cur.Status == StatusAnonymous {
			return
		}
		s.log.Info("session signed out", zap.String("user_id", cur.UserID()))
		s.publish(anonymous())
		return
	}

	if cur.Status == StatusAuthenticated && cur.Identity != nil && cur.Identity.ID == ev.Identity.ID {
		return
	}

	if cur.Status != StatusAuthenticating || cur.Identity != nil {
		s.publish(Session{Status: StatusAuthenticating, Roles: []string{}})
	}

	id := *ev.Identity
	next := Session{Identity: &id, Status: StatusAuthenticated}

	rctx, cancel := timeouts.WithTimeout(ctx, timeouts.Lookup(), s.log, "resolve roles")
	roles, err := s.resolver.ResolveRoles(rctx, id)
	cancel()
	if err != nil {
		s.log.Warn("role lookup failed; continuing without roles",
			zap.String("user_id", id.ID),
			zap.Error(err))
		next.Roles = []string{}
		next.Warning = "roles could not be loaded; access is limited until the next sign-in"
	} else {
		next.Roles = NormalizeRoles(roles)
	}

	s.log.Info("session authenticated",
		zap.String("user_id", id.ID),
		zap.Strings("roles", next.Roles))
	s.publish(next)
}

// Login hands creds to the provider. State changes arrive only through
// the provider's SignedIn event; the converged snapshot is returned.
func (s *Store) Login(ctx context.Context, creds Credentials) (Session, error) {
	if err := s.provider.Authenticate(ctx, creds); err != nil {
		var ae *apperr.AuthError
		if !errors.As(err, &ae) {
			err = apperr.Auth("sign in", err)
		}
		return s.Get(), err
	}
	return s.Get(), nil
}

// Logout signs out at the provider and, on success, clears the session
// immediately. A later SignedOut from the provider is then a no-op. If the
// provider moved the session to another signed-in state while SignOut was
// running, that state is newer than this logout and stands.
func (s *Store) Logout(ctx context.Context) error {
	s.applyMu.Lock()
	before := s.published
	s.applyMu.Unlock()

	if err := s.provider.SignOut(ctx); err != nil {
		var ae *apperr.AuthError
		if !errors.As(err, &ae) {
			err = apperr.Auth("sign out", err)
		}
		return err
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if s.published != before && s.Get().Status != StatusAnonymous {
		s.log.Debug("newer identity arrived during sign out; keeping it",
			zap.String("user_id", s.Get().UserID()),
			zap.Time("last_at", s.lastAt))
		return nil
	}
	// Unstamped: the local clear must not outrank provider events.
	s.applyLocked(ctx, Event{Kind: EventSignedOut})
	return nil
}

// Close detaches the store from its provider and drops all subscribers.
func (s *Store) Close() {
	if s.unlisten != nil {
		s.unlisten()
	}
	s.mu.Lock()
	s.subs = make(map[int]func(Session))
	s.mu.Unlock()
}

// publish must be called with applyMu held.
func (s *Store) publish(next Session) {
	if next.Roles == nil {
		next.Roles = []string{}
	}
	s.published++
	s.mu.Lock()
	s.current = next
	cbs := make([]func(Session), 0, len(s.subs))
	for _, cb := range s.subs {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(next)
	}
}
