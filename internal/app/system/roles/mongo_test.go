package roles_test

import (
	"testing"

	"github.com/dalemusser/opsdesk/internal/app/store/rolestore"
	"github.com/dalemusser/opsdesk/internal/app/system/roles"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"github.com/dalemusser/opsdesk/internal/testutil"
	"go.uber.org/zap"
)

func TestResolveRoles_FromMongo(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	fx := testutil.NewFixtures(t, db)
	manager := fx.CreateUser(ctx, "mia@example.com", "s3cret-pass", models.RoleManager, models.RoleEmployee)
	plain := fx.CreateUser(ctx, "pat@example.com", "s3cret-pass")

	r := roles.NewResolver(rolestore.New(db), zap.NewNop())

	got, err := r.ResolveRoles(ctx, session.Identity{ID: manager.ID.Hex(), Email: manager.Email})
	if err != nil {
		t.Fatalf("ResolveRoles failed: %v", err)
	}
	want := []string{models.RoleEmployee, models.RoleManager}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("roles: got %v, want %v", got, want)
	}

	got, err = r.ResolveRoles(ctx, session.Identity{ID: plain.ID.Hex(), Email: plain.Email})
	if err != nil {
		t.Fatalf("ResolveRoles failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("roles for unassigned user: got %v, want none", got)
	}
}
