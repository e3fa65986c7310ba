// internal/app/store/rolestore/rolestore.go
package rolestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/opsdesk/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store reads and writes the roles and user_roles collections.
type Store struct {
	roles *mongo.Collection
	links *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		roles: db.Collection("roles"),
		links: db.Collection("user_roles"),
	}
}

var (
	// ErrRoleNotFound is returned when a role name is not in the roles collection.
	ErrRoleNotFound = errors.New("role not found")
	errBadRoleName  = errors.New("role name is required")
)

func roleName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// QueryRoles returns the names of every role assigned to userID, joining
// user_roles with roles. An id that is not an ObjectID has no roles.
func (s *Store) QueryRoles(ctx context.Context, userID string) ([]string, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return []string{}, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "user_id", Value: oid}}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "roles"},
			{Key: "localField", Value: "role_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "role"},
		}}},
		{{Key: "$unwind", Value: "$role"}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "name", Value: "$role.name"},
		}}},
	}
	cur, err := s.links.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []struct {
		Name string `bson:"name"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Name)
	}
	return out, nil
}

// EnsureRole returns the role called name, creating it if needed.
func (s *Store) EnsureRole(ctx context.Context, name string) (models.Role, error) {
	name = roleName(name)
	if name == "" {
		return models.Role{}, errBadRoleName
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	update := bson.M{"$setOnInsert": bson.M{
		"name":       name,
		"created_at": time.Now().UTC(),
	}}

	var r models.Role
	err := s.roles.FindOneAndUpdate(ctx, bson.M{"name": name}, update, opts).Decode(&r)
	if err != nil && wafflemongo.IsDup(err) {
		// Lost an upsert race; the other writer created it.
		return s.GetByName(ctx, name)
	}
	return r, err
}

// Seed ensures every name in names exists.
func (s *Store) Seed(ctx context.Context, names ...string) error {
	for _, n := range names {
		if _, err := s.EnsureRole(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// GetByName loads a role by name.
func (s *Store) GetByName(ctx context.Context, name string) (models.Role, error) {
	var r models.Role
	err := s.roles.FindOne(ctx, bson.M{"name": roleName(name)}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Role{}, ErrRoleNotFound
	}
	return r, err
}

// Assign gives userID the role called name. Assigning a role the user
// already holds is a no-op.
func (s *Store) Assign(ctx context.Context, userID primitive.ObjectID, name string) error {
	r, err := s.GetByName(ctx, name)
	if err != nil {
		return err
	}
	_, err = s.links.InsertOne(ctx, models.UserRole{
		UserID:    userID,
		RoleID:    r.ID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil && wafflemongo.IsDup(err) {
		return nil
	}
	return err
}

// Unassign removes the role called name from userID.
func (s *Store) Unassign(ctx context.Context, userID primitive.ObjectID, name string) error {
	r, err := s.GetByName(ctx, name)
	if err != nil {
		return err
	}
	_, err = s.links.DeleteOne(ctx, bson.M{"user_id": userID, "role_id": r.ID})
	return err
}

// List returns every role ordered by name.
func (s *Store) List(ctx context.Context) ([]models.Role, error) {
	cur, err := s.roles.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []models.Role{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
