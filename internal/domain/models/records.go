// internal/domain/models/records.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Record is implemented by every collection row shown on the desk.
// RecordID returns the hex form of the server-assigned id, or "" for a
// record that has not been stored yet.
type Record interface {
	RecordID() string
}

func hexID(id primitive.ObjectID) string {
	if id.IsZero() {
		return ""
	}
	return id.Hex()
}

// Employee is a row of the employees collection.
type Employee struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name       string             `bson:"name" json:"name"`
	Position   string             `bson:"position" json:"position"`
	Salary     float64            `bson:"salary" json:"salary"`
	Department string             `bson:"department" json:"department"`
	CreatedAt  time.Time          `bson:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt  time.Time          `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

func (e Employee) RecordID() string { return hexID(e.ID) }

// WithID returns a copy of e carrying id.
func (e Employee) WithID(id primitive.ObjectID) Employee {
	e.ID = id
	return e
}

// InventoryItem is a row of the inventory collection.
type InventoryItem struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	Quantity  int                `bson:"quantity" json:"quantity"`
	Price     float64            `bson:"price" json:"price"`
	Supplier  string             `bson:"supplier" json:"supplier"`
	CreatedAt time.Time          `bson:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt time.Time          `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

func (i InventoryItem) RecordID() string { return hexID(i.ID) }

// WithID returns a copy of i carrying id.
func (i InventoryItem) WithID(id primitive.ObjectID) InventoryItem {
	i.ID = id
	return i
}

// Transaction is a row of the transactions collection.
// Date is a calendar day in YYYY-MM-DD form.
type Transaction struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Type        string             `bson:"type" json:"type"`
	Amount      float64            `bson:"amount" json:"amount"`
	Date        string             `bson:"date" json:"date"`
	Description string             `bson:"description" json:"description"`
	CreatedAt   time.Time          `bson:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt   time.Time          `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

func (t Transaction) RecordID() string { return hexID(t.ID) }

// WithID returns a copy of t carrying id.
func (t Transaction) WithID(id primitive.ObjectID) Transaction {
	t.ID = id
	return t
}

// Project is a row of the projects collection.
type Project struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description" json:"description"`
	CreatedAt   time.Time          `bson:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt   time.Time          `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

func (p Project) RecordID() string { return hexID(p.ID) }

// WithID returns a copy of p carrying id.
func (p Project) WithID(id primitive.ObjectID) Project {
	p.ID = id
	return p
}
