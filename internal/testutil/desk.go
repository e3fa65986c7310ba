package testutil

import (
	"time"

	"github.com/dalemusser/opsdesk/internal/app/system/changefeed"
	"github.com/dalemusser/opsdesk/internal/app/system/desk"
	"github.com/dalemusser/opsdesk/internal/domain/models"
)

// DeskFixture is an in-memory set of desk backends.
type DeskFixture struct {
	Roles        *StaticRoles
	Employees    *MemTable[models.Employee]
	Inventory    *MemTable[models.InventoryItem]
	Transactions *MemTable[models.Transaction]
	Projects     *MemTable[models.Project]
}

// NewDeskFixture returns empty tables and a resolver that knows no users.
func NewDeskFixture() *DeskFixture {
	return &DeskFixture{
		Roles:        NewStaticRoles(),
		Employees:    NewEmployeeTable(),
		Inventory:    NewInventoryTable(),
		Transactions: NewTransactionTable(),
		Projects:     NewProjectTable(),
	}
}

// Backends wires the fixture with fast feed retries.
func (f *DeskFixture) Backends() desk.Backends {
	return desk.Backends{
		Roles:        f.Roles,
		Employees:    f.Employees,
		Inventory:    f.Inventory,
		Transactions: f.Transactions,
		Projects:     f.Projects,
		Feed: changefeed.Options{
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     20 * time.Millisecond,
		},
	}
}

// NewRegistry builds a registry over the fixture whose clients use
// providers from newProvider.
func (f *DeskFixture) NewRegistry(size int, newProvider desk.ProviderFactory) (*desk.Registry, error) {
	return desk.NewRegistry(size, f.Backends(), newProvider)
}
