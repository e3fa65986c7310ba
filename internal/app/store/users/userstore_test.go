package userstore_test

import (
	"errors"
	"testing"

	userstore "github.com/dalemusser/opsdesk/internal/app/store/users"
	"github.com/dalemusser/opsdesk/internal/app/system/indexes"
	"github.com/dalemusser/opsdesk/internal/app/system/paging"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"github.com/dalemusser/opsdesk/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestStore_Create_Password(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, models.User{
		FullName:     "  Ada Admin ",
		Email:        "  Ada@Example.COM ",
		PasswordHash: "$2a$10$hash",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if created.ID == primitive.NilObjectID {
		t.Error("expected ID to be assigned")
	}
	if created.Email != "ada@example.com" {
		t.Errorf("expected normalized email, got %q", created.Email)
	}
	if created.FullName != "Ada Admin" {
		t.Errorf("expected trimmed name, got %q", created.FullName)
	}
	if created.AuthMethod != models.AuthMethodPassword {
		t.Errorf("expected default auth method password, got %q", created.AuthMethod)
	}
	if created.Status != models.UserStatusActive {
		t.Errorf("expected status 'active', got %q", created.Status)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	got, err := store.GetByEmail(ctx, "ADA@example.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("GetByEmail returned %v, want %v", got.ID, created.ID)
	}
}

func TestStore_Create_Validation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	cases := []struct {
		name string
		u    models.User
	}{
		{"missing email", models.User{PasswordHash: "h"}},
		{"password without hash", models.User{Email: "a@example.com"}},
		{"bad auth method", models.User{Email: "a@example.com", AuthMethod: "saml"}},
		{"bad status", models.User{Email: "a@example.com", PasswordHash: "h", Status: "pending"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.Create(ctx, tc.u); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := store.Create(ctx, models.User{Email: "g@example.com", AuthMethod: "Google"}); err != nil {
		t.Errorf("google user without password: %v", err)
	}
}

func TestStore_Create_DuplicateEmail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	if _, err := store.Create(ctx, models.User{Email: "dup@example.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := store.Create(ctx, models.User{Email: "DUP@example.com", PasswordHash: "h"})
	if !errors.Is(err, userstore.ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestStore_SetStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u, err := store.Create(ctx, models.User{Email: "s@example.com", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.SetStatus(ctx, u.ID, "Disabled"); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	got, err := store.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.UserStatusDisabled {
		t.Errorf("status: got %q, want disabled", got.Status)
	}

	if err := store.SetStatus(ctx, primitive.NewObjectID(), "active"); err != mongo.ErrNoDocuments {
		t.Errorf("unknown user: got %v, want ErrNoDocuments", err)
	}
	if err := store.SetStatus(ctx, u.ID, "archived"); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestStore_ListPage(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := userstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for _, e := range []string{"c@example.com", "b@example.com", "a@example.com"} {
		if _, err := store.Create(ctx, models.User{Email: e, PasswordHash: "h"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	first, err := store.ListPage(ctx, "", paging.Request{Limit: 2})
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].Email != "a@example.com" || first.Items[1].Email != "b@example.com" {
		t.Fatalf("first page: got %+v", first.Items)
	}
	if first.Next == "" {
		t.Fatal("first page: expected a next cursor")
	}

	second, err := store.ListPage(ctx, "", paging.Request{After: first.Next, Limit: 2})
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].Email != "c@example.com" {
		t.Errorf("second page: got %+v", second.Items)
	}
	if second.Next != "" {
		t.Errorf("second page: got next %q, want none", second.Next)
	}

	disabled, err := store.ListPage(ctx, models.UserStatusDisabled, paging.Request{})
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if len(disabled.Items) != 0 {
		t.Errorf("disabled: got %d users, want 0", len(disabled.Items))
	}
}
