package home_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/opsdesk/internal/app/features/home"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"github.com/dalemusser/opsdesk/internal/testutil"
	"go.uber.org/zap"
)

type landing struct {
	Menu []struct {
		Path string `json:"path"`
	} `json:"menu"`
	CanEdit bool `json:"can_edit"`
	IsAdmin bool `json:"is_admin"`
}

func serve(t *testing.T, r *http.Request) landing {
	t.Helper()
	rec := httptest.NewRecorder()
	home.NewHandler(zap.NewNop()).ServeRoot(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var out landing
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse response JSON: %v", err)
	}
	return out
}

func TestServeRoot_Anonymous(t *testing.T) {
	out := serve(t, httptest.NewRequest("GET", "/", nil))
	if len(out.Menu) != 1 || out.Menu[0].Path != "/login" {
		t.Errorf("menu: got %+v", out.Menu)
	}
}

func TestServeRoot_Manager(t *testing.T) {
	f := testutil.NewDeskFixture()
	c, _ := f.SignedInClient(t, "m@example.com", models.RoleManager)

	out := serve(t, testutil.WithClient(httptest.NewRequest("GET", "/", nil), c))
	if len(out.Menu) != 4 {
		t.Errorf("menu: got %d entries, want 4", len(out.Menu))
	}
	if !out.CanEdit || out.IsAdmin {
		t.Errorf("capabilities: can_edit=%v is_admin=%v", out.CanEdit, out.IsAdmin)
	}
}
