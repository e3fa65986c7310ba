// internal/domain/models/role.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Built-in role names. Deployments may add more through the roles collection.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// DefaultRoles are seeded on startup.
var DefaultRoles = []string{RoleAdmin, RoleManager, RoleEmployee}

// Role is a named permission bundle. Names are stored lowercase.
type Role struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// UserRole links a user to a role. The (user_id, role_id) pair is unique.
type UserRole struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"user_id"`
	RoleID    primitive.ObjectID `bson:"role_id"`
	CreatedAt time.Time          `bson:"created_at"`
}
