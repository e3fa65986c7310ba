package authgoogle_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/features/authgoogle"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"github.com/dalemusser/opsdesk/internal/testutil"
	"go.uber.org/zap"
)

type memStates struct {
	mu     sync.Mutex
	states map[string]string
}

func newMemStates() *memStates { return &memStates{states: map[string]string{}} }

func (m *memStates) Save(ctx context.Context, state, returnURL string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state] = returnURL
	return nil
}

func (m *memStates) Validate(ctx context.Context, state string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret, ok := m.states[state]
	delete(m.states, state)
	return ret, ok, nil
}

func (m *memStates) only(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.states) != 1 {
		t.Fatalf("saved states: got %d, want 1", len(m.states))
	}
	for s := range m.states {
		return s
	}
	return ""
}

type fakeConsent struct{}

func (fakeConsent) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func newHandler(t *testing.T, google authgoogle.Consent) (*authgoogle.Handler, *memStates) {
	t.Helper()
	sm, err := auth.NewSessionManager("test-session-key-must-be-32-chars-long", "test-session", "", time.Hour, false, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	states := newMemStates()
	return authgoogle.NewHandler(sm, states, google, zap.NewNop()), states
}

func TestServeLogin_NotConfigured(t *testing.T) {
	h, _ := newHandler(t, nil)

	rec := testutil.NewRecorder()
	h.ServeLogin(rec, httptest.NewRequest("GET", "/login/google", nil))
	rec.AssertRedirect(t, "/login?error=google_not_configured")
}

func TestServeLogin_SavesStateAndRedirects(t *testing.T) {
	h, states := newHandler(t, fakeConsent{})

	rec := httptest.NewRecorder()
	h.ServeLogin(rec, httptest.NewRequest("GET", "/login/google?return=%2Fc%2Femployees", nil))

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status: got %d", rec.Code)
	}
	state := states.only(t)
	if loc := rec.Header().Get("Location"); !strings.HasSuffix(loc, "state="+state) {
		t.Errorf("Location %q does not carry state %q", loc, state)
	}
	if ret := states.states[state]; ret != "/c/employees" {
		t.Errorf("saved return: got %q", ret)
	}
}

func TestServeCallback_SignsIn(t *testing.T) {
	h, states := newHandler(t, fakeConsent{})
	f := testutil.NewDeskFixture()
	c, p := f.AnonymousClient(t)
	ident := p.AddUser("g1", "g@example.com", "")
	f.Roles.Set(ident.ID, models.RoleEmployee)
	_ = states.Save(context.Background(), "st-1", "/c/projects", time.Now().Add(time.Minute))

	req := testutil.WithClient(httptest.NewRequest("GET", "/login/google/callback?state=st-1&code=code-g@example.com", nil), c)
	req.Header.Set("Accept", "text/html")
	rec := testutil.NewRecorder()
	h.ServeCallback(rec, req)

	rec.AssertRedirect(t, "/c/projects")
	s := c.Session().Get()
	if !s.Authenticated() || !s.HasRole(models.RoleEmployee) {
		t.Errorf("session: got %+v", s)
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Error("session cookie not saved")
	}
}

func TestServeCallback_Failures(t *testing.T) {
	tests := []struct {
		name   string
		target string
		seed   bool
		want   string
	}{
		{"provider error", "/login/google/callback?error=access_denied", false, "/login?error=google_denied"},
		{"missing state", "/login/google/callback?code=x", false, "/login?error=invalid_state"},
		{"unknown state", "/login/google/callback?state=nope&code=x", false, "/login?error=invalid_state"},
		{"missing code", "/login/google/callback?state=st-1", true, "/login?error=invalid_code"},
		{"no account", "/login/google/callback?state=st-1&code=code-nobody@example.com", true, "/login?error=no_account"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, states := newHandler(t, fakeConsent{})
			if tt.seed {
				_ = states.Save(context.Background(), "st-1", "/", time.Now().Add(time.Minute))
			}
			c, _ := testutil.NewDeskFixture().AnonymousClient(t)

			rec := testutil.NewRecorder()
			h.ServeCallback(rec, testutil.WithClient(httptest.NewRequest("GET", tt.target, nil), c))
			rec.AssertRedirect(t, tt.want)
			if c.Session().Get().Authenticated() {
				t.Error("failed callback signed the client in")
			}
		})
	}
}

func TestServeCallback_StateIsSingleUse(t *testing.T) {
	h, states := newHandler(t, fakeConsent{})
	f := testutil.NewDeskFixture()
	c, p := f.AnonymousClient(t)
	p.AddUser("g1", "g@example.com", "")
	_ = states.Save(context.Background(), "st-1", "/", time.Now().Add(time.Minute))

	target := "/login/google/callback?state=st-1&code=code-g@example.com"
	rec := httptest.NewRecorder()
	h.ServeCallback(rec, testutil.WithClient(httptest.NewRequest("GET", target, nil), c))
	if rec.Code != http.StatusOK {
		t.Fatalf("first callback: got %d", rec.Code)
	}

	replay := testutil.NewRecorder()
	h.ServeCallback(replay, testutil.WithClient(httptest.NewRequest("GET", target, nil), c))
	replay.AssertRedirect(t, "/login?error=invalid_state")
}
