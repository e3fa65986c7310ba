// Package collections names the record collections shown on the desk and
// defines the field rules each one enforces before a write.
package collections

import (
	"time"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/htmlsanitize"
	"github.com/dalemusser/opsdesk/internal/domain/models"
)

// Collection names. These are also the MongoDB collection names and the
// path segment under /c/.
const (
	Employees    = "employees"
	Inventory    = "inventory"
	Transactions = "transactions"
	Projects     = "projects"
)

// Names lists every collection in menu order.
var Names = []string{Employees, Inventory, Transactions, Projects}

// Known reports whether name is a desk collection.
func Known(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// DateLayout is the storage format of Transaction.Date.
const DateLayout = "2006-01-02"

// EmployeeRules checks employees.
type EmployeeRules struct{}

func (EmployeeRules) Normalize(e models.Employee) models.Employee {
	e.Name = htmlsanitize.PlainText(e.Name)
	e.Position = htmlsanitize.PlainText(e.Position)
	e.Department = htmlsanitize.PlainText(e.Department)
	return e
}

func (EmployeeRules) Validate(e models.Employee) error {
	ve := &apperr.ValidationError{}
	ve.Require("name", e.Name)
	ve.Require("position", e.Position)
	if e.Salary < 0 {
		ve.Add("salary", "must not be negative")
	}
	return ve.OrNil()
}

// InventoryRules checks inventory items.
type InventoryRules struct{}

func (InventoryRules) Normalize(i models.InventoryItem) models.InventoryItem {
	i.Name = htmlsanitize.PlainText(i.Name)
	i.Supplier = htmlsanitize.PlainText(i.Supplier)
	return i
}

func (InventoryRules) Validate(i models.InventoryItem) error {
	ve := &apperr.ValidationError{}
	ve.Require("name", i.Name)
	if i.Quantity < 0 {
		ve.Add("quantity", "must not be negative")
	}
	if i.Price < 0 {
		ve.Add("price", "must not be negative")
	}
	return ve.OrNil()
}

// TransactionRules checks transactions.
type TransactionRules struct{}

func (TransactionRules) Normalize(t models.Transaction) models.Transaction {
	t.Type = htmlsanitize.PlainText(t.Type)
	t.Date = htmlsanitize.PlainText(t.Date)
	t.Description = htmlsanitize.PlainText(t.Description)
	return t
}

func (TransactionRules) Validate(t models.Transaction) error {
	ve := &apperr.ValidationError{}
	ve.Require("type", t.Type)
	if t.Amount == 0 {
		ve.Add("amount", "is required")
	}
	if t.Date != "" {
		if _, err := time.Parse(DateLayout, t.Date); err != nil {
			ve.Add("date", "must be a date in YYYY-MM-DD form")
		}
	}
	return ve.OrNil()
}

// ProjectRules checks projects. Both fields are required.
type ProjectRules struct{}

func (ProjectRules) Normalize(p models.Project) models.Project {
	p.Name = htmlsanitize.PlainText(p.Name)
	p.Description = htmlsanitize.Sanitize(p.Description)
	return p
}

func (ProjectRules) Validate(p models.Project) error {
	ve := &apperr.ValidationError{}
	ve.Require("name", p.Name)
	ve.Require("description", htmlsanitize.PlainText(p.Description))
	return ve.OrNil()
}
