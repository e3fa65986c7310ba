package workers_test

import (
	"context"
	"testing"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/system/desk"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/app/system/workers"
	"github.com/dalemusser/opsdesk/internal/testutil"
	"go.uber.org/zap"
)

// signedIn creates a registry client signed in as id through its own
// fake provider.
func signedIn(t *testing.T, reg *desk.Registry, providers map[string]*testutil.FakeProvider, id string) *desk.Client {
	t.Helper()
	p := testutil.NewFakeProvider()
	ident := session.Identity{ID: id, Email: id + "@example.com"}
	p.Persist(&ident)
	providers[id] = p
	c := reg.Create(context.Background(), id)
	if !c.Session().Get().Authenticated() {
		t.Fatalf("client %s not signed in: %+v", id, c.Session().Get())
	}
	return c
}

func TestTokenRefresher_RefreshesDueTokens(t *testing.T) {
	f := testutil.NewDeskFixture()
	providers := map[string]*testutil.FakeProvider{}
	reg, err := f.NewRegistry(10, func(token string) desk.Provider { return providers[token] })
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	defer reg.Close()

	now := time.Now()
	soon := signedIn(t, reg, providers, "soon")
	later := signedIn(t, reg, providers, "later")
	revoked := signedIn(t, reg, providers, "revoked")
	providers["soon"].SetExpiry(now.Add(time.Minute))
	providers["later"].SetExpiry(now.Add(time.Hour))
	providers["revoked"].SetExpiry(now.Add(time.Minute))
	providers["revoked"].Invalidate()

	w := workers.NewTokenRefresher(reg, zap.NewNop(), time.Minute, 5*time.Minute)
	refreshed, signedOut := w.RefreshDue(context.Background(), now)
	if refreshed != 1 || signedOut != 1 {
		t.Errorf("got refreshed=%d signedOut=%d, want 1 and 1", refreshed, signedOut)
	}

	if !providers["soon"].ExpiresAt().After(now.Add(5 * time.Minute)) {
		t.Error("due token was not extended")
	}
	if !soon.Session().Get().Authenticated() {
		t.Error("refreshed client should stay signed in")
	}
	if !later.Session().Get().Authenticated() {
		t.Error("client outside the window should be untouched")
	}
	if got := revoked.Session().Get(); got.Status != session.StatusAnonymous {
		t.Errorf("revoked client: got %v, want anonymous", got.Status)
	}

	// The signed-out client has no token and is skipped next time.
	if _, signedOut = w.RefreshDue(context.Background(), now); signedOut != 0 {
		t.Errorf("second pass signedOut=%d, want 0", signedOut)
	}
}

func TestClientReaper_Sweep(t *testing.T) {
	f := testutil.NewDeskFixture()
	reg, err := f.NewRegistry(10, func(string) desk.Provider { return testutil.NewFakeProvider() })
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	defer reg.Close()

	idle := reg.Create(context.Background(), "")
	busy := reg.Create(context.Background(), "")
	release, err := busy.Projects.Activate(context.Background())
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	defer release()

	w := workers.NewClientReaper(reg, zap.NewNop(), time.Minute, 10*time.Minute)
	if n := w.Sweep(time.Now()); n != 0 {
		t.Errorf("fresh clients reaped: %d", n)
	}
	if n := w.Sweep(time.Now().Add(time.Hour)); n != 1 {
		t.Errorf("reaped: got %d, want 1", n)
	}
	if _, ok := reg.Get(idle.ID()); ok {
		t.Error("idle client still registered")
	}
	if _, ok := reg.Get(busy.ID()); !ok {
		t.Error("client with an active viewer was reaped")
	}
}

type countingExpirer struct{ calls chan struct{} }

func (c countingExpirer) CleanupExpired(ctx context.Context) (int64, error) {
	select {
	case c.calls <- struct{}{}:
	default:
	}
	return 1, nil
}

func TestStateCleanup_RunsUntilStopped(t *testing.T) {
	exp := countingExpirer{calls: make(chan struct{}, 1)}
	w := workers.NewStateCleanup(exp, zap.NewNop(), 5*time.Millisecond)
	w.Start()

	select {
	case <-exp.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup never ran")
	}
	w.Stop()
	w.Stop()
}
