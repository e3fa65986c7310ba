// Package session holds the authenticated identity of one desk client and
// the roles resolved for it.
//
// The Store is the only writer of session state. Identity-provider events,
// login and logout all converge through OnIdentityChanged, which applies
// transitions one at a time. Subscribers only ever see fully resolved
// snapshots: a new identity is published together with its roles, never
// before them, and never with the roles of the previous identity.
package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Status is the lifecycle state of a Session.
type Status int

const (
	StatusUninitialized Status = iota
	StatusAuthenticating
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "uninitialized"
	}
}

// MarshalText renders the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a name produced by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{StatusUninitialized, StatusAuthenticating, StatusAuthenticated, StatusAnonymous} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", b)
}

// Identity is the provider's view of a signed-in user.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an immutable snapshot. Roles are lowercase, sorted and
// deduplicated, and are empty whenever Identity is nil.
type Session struct {
	Identity *Identity `json:"identity"`
	Roles    []string  `json:"roles"`
	Status   Status    `json:"status"`
	// Warning is set when the session is usable but degraded, for
	// example when the role lookup failed.
	Warning string `json:"warning,omitempty"`
}

// Authenticated reports whether the session carries a resolved identity.
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Identity != nil
}

// HasRole reports whether the session holds role.
func (s Session) HasRole(role string) bool {
	_, found := slices.BinarySearch(s.Roles, strings.ToLower(strings.TrimSpace(role)))
	return found
}

// HasAnyRole reports whether the session holds at least one of roles.
func (s Session) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if s.HasRole(r) {
			return true
		}
	}
	return false
}

// UserID returns the identity id, or "" when signed out.
func (s Session) UserID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.ID
}

func anonymous() Session {
	return Session{Status: StatusAnonymous, Roles: []string{}}
}

// NormalizeRoles lowercases, trims, deduplicates and sorts role names.
func NormalizeRoles(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// EventKind classifies identity-provider notifications.
type EventKind int

const (
	EventInitialSession EventKind = iota
	EventSignedIn
	EventSignedOut
	EventTokenRefreshed
)

func (k EventKind) String() string {
	switch k {
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	case EventTokenRefreshed:
		return "token_refreshed"
	default:
		return "initial_session"
	}
}

// Event is an identity change reported by the provider. At is the
// provider-assigned time of the change and orders competing events.
type Event struct {
	Kind     EventKind
	Identity *Identity
	At       time.Time
}

// Credentials are handed to the provider unchanged. Either Password or
// OAuthCode is set.
type Credentials struct {
	Email     string
	Password  string
	OAuthCode string
}

// Listener receives provider events. ctx is the context of the call that
// caused the event, or a background context for unsolicited ones.
type Listener func(ctx context.Context, ev Event)

// Provider is the external identity service as seen by one client.
type Provider interface {
	// Authenticate verifies credentials. On success the provider emits
	// EventSignedIn to its listeners before returning.
	Authenticate(ctx context.Context, creds Credentials) error
	// SignOut ends the provider session and emits EventSignedOut.
	SignOut(ctx context.Context) error
	// Recover reports the persisted session, if any, as an
	// EventInitialSession. Identity is nil when there is none.
	Recover(ctx context.Context) (Event, error)
	// OnIdentityChange registers l and returns a function that removes it.
	OnIdentityChange(l Listener) (unsubscribe func())
}

// RoleResolver fetches the role names assigned to an identity.
type RoleResolver interface {
	ResolveRoles(ctx context.Context, id Identity) ([]string, error)
}
