package login_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	uierrors "github.com/dalemusser/opsdesk/internal/app/features/errors"
	"github.com/dalemusser/opsdesk/internal/app/features/login"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/app/system/ratelimit"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"github.com/dalemusser/opsdesk/internal/testutil"
	"go.uber.org/zap"
)

type env struct {
	h      *login.Handler
	f      *testutil.DeskFixture
	client *testutil.FakeProvider
	req    func(*http.Request) *http.Request
}

func newEnv(t *testing.T, perMinute int) env {
	t.Helper()
	sm, err := auth.NewSessionManager("test-session-key-must-be-32-chars-long", "test-session", "", time.Hour, false, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	limiter := ratelimit.NewLoginLimiter(perMinute)
	t.Cleanup(limiter.Close)

	f := testutil.NewDeskFixture()
	c, p := f.AnonymousClient(t)
	ident := p.AddUser("u1", "a@x.com", "p")
	f.Roles.Set(ident.ID, models.RoleManager)

	return env{
		h:      login.NewHandler(sm, limiter, false, zap.NewNop()),
		f:      f,
		client: p,
		req:    func(r *http.Request) *http.Request { return testutil.WithClient(r, c) },
	}
}

func TestHandleLoginPost_JSON(t *testing.T) {
	e := newEnv(t, 10)

	rec := httptest.NewRecorder()
	e.h.HandleLoginPost(rec, e.req(testutil.NewJSONRequest("POST", "/login", `{"email":" A@x.com ","password":"p"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Session  session.Session `json:"session"`
		Redirect string          `json:"redirect"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Session.Identity == nil || got.Session.Identity.Email != "a@x.com" {
		t.Errorf("identity: got %+v", got.Session.Identity)
	}
	if len(got.Session.Roles) != 1 || got.Session.Roles[0] != models.RoleManager {
		t.Errorf("roles: got %v, want [manager]", got.Session.Roles)
	}
	if got.Redirect != "/" {
		t.Errorf("redirect: got %q, want /", got.Redirect)
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Error("session cookie not saved")
	}
}

func TestHandleLoginPost_FormRedirects(t *testing.T) {
	e := newEnv(t, 10)

	form := url.Values{"email": {"a@x.com"}, "password": {"p"}, "return": {"/c/projects"}}
	r := httptest.NewRequest("POST", "/login", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("Accept", "text/html")

	rec := testutil.NewRecorder()
	e.h.HandleLoginPost(rec, e.req(r))
	rec.AssertRedirect(t, "/c/projects")
}

func TestHandleLoginPost_BadPassword(t *testing.T) {
	e := newEnv(t, 10)

	rec := httptest.NewRecorder()
	r := e.req(testutil.NewJSONRequest("POST", "/login", `{"email":"a@x.com","password":"wrong"}`))
	e.h.HandleLoginPost(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
	var body uierrors.Body
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != uierrors.CodeUnauthenticated {
		t.Errorf("code: got %q", body.Code)
	}
	if s := auth.CurrentSession(r); s.Authenticated() {
		t.Error("failed login must leave the session signed out")
	}
}

func TestHandleLoginPost_Validation(t *testing.T) {
	e := newEnv(t, 10)

	rec := httptest.NewRecorder()
	e.h.HandleLoginPost(rec, e.req(testutil.NewJSONRequest("POST", "/login", `{"email":"","password":""}`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d, want 422", rec.Code)
	}
	var body uierrors.Body
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Fields) != 2 {
		t.Errorf("fields: got %+v, want email and password", body.Fields)
	}

	rec = httptest.NewRecorder()
	e.h.HandleLoginPost(rec, e.req(testutil.NewJSONRequest("POST", "/login", `{"email":`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: got %d, want 400", rec.Code)
	}
}

func TestHandleLoginPost_RateLimited(t *testing.T) {
	e := newEnv(t, 2) // one attempt per email

	rec := httptest.NewRecorder()
	e.h.HandleLoginPost(rec, e.req(testutil.NewJSONRequest("POST", "/login", `{"email":"a@x.com","password":"wrong"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("first attempt: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.h.HandleLoginPost(rec, e.req(testutil.NewJSONRequest("POST", "/login", `{"email":"a@x.com","password":"p"}`)))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second attempt: got %d, want 429", rec.Code)
	}
}

func TestServeLogin(t *testing.T) {
	e := newEnv(t, 10)

	rec := httptest.NewRecorder()
	e.h.ServeLogin(rec, e.req(httptest.NewRequest("GET", "/login?return=%2Fc%2Finventory", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var got struct {
		Session session.Session `json:"session"`
		Return  string          `json:"return"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Return != "/c/inventory" {
		t.Errorf("return: got %q", got.Return)
	}
	if got.Session.Status != session.StatusAnonymous {
		t.Errorf("status: got %v", got.Session.Status)
	}
}
