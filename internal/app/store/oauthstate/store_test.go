package oauthstate_test

import (
	"testing"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/store/oauthstate"
	"github.com/dalemusser/opsdesk/internal/testutil"
)

func TestNewState_Unique(t *testing.T) {
	a, err := oauthstate.NewState()
	if err != nil {
		t.Fatalf("NewState failed: %v", err)
	}
	b, err := oauthstate.NewState()
	if err != nil {
		t.Fatalf("NewState failed: %v", err)
	}
	if a == "" || a == b {
		t.Errorf("expected distinct non-empty states, got %q and %q", a, b)
	}
}

func TestStore_Validate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := oauthstate.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.Save(ctx, "state-1", "/c/projects", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	returnURL, valid, err := store.Validate(ctx, "state-1")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !valid {
		t.Fatal("expected state to be valid")
	}
	if returnURL != "/c/projects" {
		t.Errorf("returnURL: got %q, want /c/projects", returnURL)
	}

	// One-time use.
	_, valid, err = store.Validate(ctx, "state-1")
	if err != nil {
		t.Fatalf("second Validate failed: %v", err)
	}
	if valid {
		t.Error("expected state to be consumed")
	}
}

func TestStore_Validate_UnknownAndExpired(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := oauthstate.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.Save(ctx, "old", "", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for _, st := range []string{"old", "never-saved"} {
		_, valid, err := store.Validate(ctx, st)
		if err != nil {
			t.Fatalf("Validate(%q) failed: %v", st, err)
		}
		if valid {
			t.Errorf("Validate(%q): expected invalid", st)
		}
	}
}

func TestStore_CleanupExpired(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := oauthstate.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_ = store.Save(ctx, "expired-1", "", time.Now().Add(-time.Hour))
	_ = store.Save(ctx, "expired-2", "", time.Now().Add(-time.Minute))
	_ = store.Save(ctx, "live", "", time.Now().Add(time.Hour))

	n, err := store.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted: got %d, want 2", n)
	}
	if _, valid, _ := store.Validate(ctx, "live"); !valid {
		t.Error("live state should survive cleanup")
	}
}
