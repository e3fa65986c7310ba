package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/app/system/desk"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AnonymousClient returns an initialized desk client with no identity.
func (f *DeskFixture) AnonymousClient(t *testing.T) (*desk.Client, *FakeProvider) {
	t.Helper()
	p := NewFakeProvider()
	c := desk.NewClient(primitive.NewObjectID().Hex(), p, f.Backends())
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c, p
}

// SignedInClient returns a desk client already signed in as email and
// holding roles.
func (f *DeskFixture) SignedInClient(t *testing.T, email string, roles ...string) (*desk.Client, *FakeProvider) {
	t.Helper()
	id := primitive.NewObjectID().Hex()
	f.Roles.Set(id, roles...)

	p := NewFakeProvider()
	p.Persist(&session.Identity{ID: id, Email: email})
	c := desk.NewClient(id, p, f.Backends())
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !c.Session().Get().Authenticated() {
		t.Fatalf("client not signed in: %+v", c.Session().Get())
	}
	t.Cleanup(c.Close)
	return c, p
}

// WithClient attaches c to r as the session middleware would.
func WithClient(r *http.Request, c *desk.Client) *http.Request {
	return r.WithContext(auth.WithClient(r.Context(), c))
}

// NewRequest creates an HTTP request for testing.
func NewRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}

// NewJSONRequest creates a request with a JSON body.
func NewJSONRequest(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// ResponseRecorder wraps httptest.ResponseRecorder with helper methods.
type ResponseRecorder struct {
	*httptest.ResponseRecorder
}

// NewRecorder creates a new ResponseRecorder.
func NewRecorder() *ResponseRecorder {
	return &ResponseRecorder{httptest.NewRecorder()}
}

// AssertStatus checks the response status code.
func (r *ResponseRecorder) AssertStatus(t interface{ Errorf(string, ...any) }, expected int) {
	if r.Code != expected {
		t.Errorf("status code: got %d, want %d (body %q)", r.Code, expected, r.Body.String())
	}
}

// AssertRedirect checks for a redirect to the expected location.
func (r *ResponseRecorder) AssertRedirect(t interface{ Errorf(string, ...any) }, expectedLocation string) {
	if r.Code != http.StatusSeeOther && r.Code != http.StatusFound && r.Code != http.StatusMovedPermanently {
		t.Errorf("expected redirect status, got %d", r.Code)
	}
	location := r.Header().Get("Location")
	if location != expectedLocation {
		t.Errorf("redirect location: got %q, want %q", location, expectedLocation)
	}
}

// AssertContains checks if the response body contains the expected string.
func (r *ResponseRecorder) AssertContains(t interface{ Errorf(string, ...any) }, expected string) {
	if body := r.Body.String(); !strings.Contains(body, expected) {
		t.Errorf("response body %q does not contain %q", body, expected)
	}
}
