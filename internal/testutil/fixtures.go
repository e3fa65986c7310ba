package testutil

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/opsdesk/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures writes test accounts straight into a test database, bypassing
// the stores under test.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateUser inserts an active password account and links it to roles,
// creating any role that does not exist yet.
func (f *Fixtures) CreateUser(ctx context.Context, email, password string, roles ...string) models.User {
	f.t.Helper()
	return f.insertUser(ctx, email, password, models.UserStatusActive, roles)
}

// CreateDisabledUser inserts a disabled password account.
func (f *Fixtures) CreateDisabledUser(ctx context.Context, email, password string) models.User {
	f.t.Helper()
	return f.insertUser(ctx, email, password, models.UserStatusDisabled, nil)
}

func (f *Fixtures) insertUser(ctx context.Context, email, password, status string, roles []string) models.User {
	f.t.Helper()

	// MinCost keeps fixture setup fast.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		f.t.Fatalf("failed to hash fixture password: %v", err)
	}

	now := time.Now().UTC()
	user := models.User{
		ID:           primitive.NewObjectID(),
		Email:        email,
		EmailCI:      text.Fold(email),
		AuthMethod:   models.AuthMethodPassword,
		PasswordHash: string(hash),
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := f.db.Collection("users").InsertOne(ctx, user); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}

	for _, name := range roles {
		f.linkRole(ctx, user.ID, name)
	}
	return user
}

func (f *Fixtures) linkRole(ctx context.Context, userID primitive.ObjectID, name string) {
	f.t.Helper()
	name = strings.ToLower(strings.TrimSpace(name))

	var role models.Role
	err := f.db.Collection("roles").FindOneAndUpdate(ctx,
		bson.M{"name": name},
		bson.M{"$setOnInsert": bson.M{"name": name, "created_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&role)
	if err != nil {
		f.t.Fatalf("failed to ensure role %q: %v", name, err)
	}

	_, err = f.db.Collection("user_roles").InsertOne(ctx, models.UserRole{
		UserID:    userID,
		RoleID:    role.ID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		f.t.Fatalf("failed to link role %q: %v", name, err)
	}
}
