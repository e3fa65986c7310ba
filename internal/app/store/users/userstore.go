package userstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/system/normalize"
	"github.com/dalemusser/opsdesk/internal/app/system/paging"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

// GetByID loads a user by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail looks up a user by case-insensitive email. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"email_ci": text.Fold(normalize.Email(email))}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

var (
	// ErrDuplicateEmail is returned when attempting to create a user with an email that already exists.
	ErrDuplicateEmail = errors.New("a user with this email already exists")
	errBadAuthMethod  = errors.New(`auth_method must be "password"|"google"`)
	errBadStatus      = errors.New(`status must be "active"|"disabled"`)
	errNoPassword     = errors.New("password users need a password hash")
	errNoEmail        = errors.New("email is required")
)

// Create inserts a new user after normalizing & validating fields.
// Roles are assigned separately through the role store.
func (s *Store) Create(ctx context.Context, u models.User) (models.User, error) {
	u.ID = primitive.NewObjectID()
	u.FullName = normalize.Name(u.FullName)
	u.Email = normalize.Email(u.Email)
	u.EmailCI = text.Fold(u.Email)
	u.AuthMethod = normalize.AuthMethod(u.AuthMethod)
	u.Status = normalize.Status(u.Status)
	if u.AuthMethod == "" {
		u.AuthMethod = models.AuthMethodPassword
	}
	if u.Status == "" {
		u.Status = models.UserStatusActive
	}

	if u.Email == "" {
		return models.User{}, errNoEmail
	}
	if !models.IsValidAuthMethod(u.AuthMethod) {
		return models.User{}, errBadAuthMethod
	}
	if u.Status != models.UserStatusActive && u.Status != models.UserStatusDisabled {
		return models.User{}, errBadStatus
	}
	if u.AuthMethod == models.AuthMethodPassword && u.PasswordHash == "" {
		return models.User{}, errNoPassword
	}

	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, err
	}
	return u, nil
}

// SetStatus changes a user's status. Returns mongo.ErrNoDocuments when
// the user does not exist.
func (s *Store) SetStatus(ctx context.Context, id primitive.ObjectID, status string) error {
	status = normalize.Status(status)
	if status != models.UserStatusActive && status != models.UserStatusDisabled {
		return errBadStatus
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// SetPasswordHash replaces a user's password hash.
func (s *Store) SetPasswordHash(ctx context.Context, id primitive.ObjectID, hash string) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"password_hash": hash,
		"updated_at":    time.Now(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// ListPage returns users ordered by email_ci, one keyset page at a time.
// status, when not empty, restricts the page to that status.
func (s *Store) ListPage(ctx context.Context, status string, p paging.Request) (paging.Page[models.User], error) {
	filter := p.Window("email_ci")
	if status != "" {
		filter["status"] = status
	}
	cur, err := s.c.Find(ctx, filter, p.FindOptions("email_ci"))
	if err != nil {
		return paging.Page[models.User]{}, err
	}
	defer cur.Close(ctx)
	var out []models.User
	if err := cur.All(ctx, &out); err != nil {
		return paging.Page[models.User]{}, err
	}
	return paging.Trim(out, p, func(u models.User) (string, primitive.ObjectID) {
		return u.EmailCI, u.ID
	}), nil
}
