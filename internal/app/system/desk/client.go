// Package desk composes the engine for one browser session: a session
// store, an identity-provider client and the four record collections.
// Clients live in a bounded Registry keyed by an opaque client id.
package desk

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/system/changefeed"
	"github.com/dalemusser/opsdesk/internal/app/system/collections"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"go.uber.org/zap"
)

// Provider is the identity provider as seen by one client.
type Provider interface {
	session.Provider
	// Token is the opaque provider token to persist in the browser, or ""
	// when signed out.
	Token() string
	ExpiresAt() time.Time
	// Refresh extends the token. A revoked or expired token makes the
	// provider emit EventSignedOut.
	Refresh(ctx context.Context) error
	Close()
}

// Backends are the shared stores every client reads and writes.
type Backends struct {
	Roles        session.RoleResolver
	Employees    Backend[models.Employee]
	Inventory    Backend[models.InventoryItem]
	Transactions Backend[models.Transaction]
	Projects     Backend[models.Project]
	Feed         changefeed.Options
	Logger       *zap.Logger
}

// Client is one desk: a session and its collections.
type Client struct {
	id       string
	provider Provider
	session  *session.Store
	log      *zap.Logger

	Employees    *Collection[models.Employee]
	Inventory    *Collection[models.InventoryItem]
	Transactions *Collection[models.Transaction]
	Projects     *Collection[models.Project]

	tables map[string]Table

	mu        sync.Mutex
	lastSeen  time.Time
	closeOnce sync.Once
}

// NewClient builds a client. The session stays UNINITIALIZED until
// Initialize runs.
func NewClient(id string, p Provider, b Backends) *Client {
	log := b.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("client_id", id))

	c := &Client{
		id:       id,
		provider: p,
		session:  session.New(p, b.Roles, log),
		log:      log,
		lastSeen: time.Now(),
	}
	c.Employees = NewCollection[models.Employee](collections.Employees, b.Employees, collections.EmployeeRules{}, b.Feed, log)
	c.Inventory = NewCollection[models.InventoryItem](collections.Inventory, b.Inventory, collections.InventoryRules{}, b.Feed, log)
	c.Transactions = NewCollection[models.Transaction](collections.Transactions, b.Transactions, collections.TransactionRules{}, b.Feed, log)
	c.Projects = NewCollection[models.Project](collections.Projects, b.Projects, collections.ProjectRules{}, b.Feed, log)
	c.tables = map[string]Table{
		collections.Employees:    c.Employees,
		collections.Inventory:    c.Inventory,
		collections.Transactions: c.Transactions,
		collections.Projects:     c.Projects,
	}
	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) Session() *session.Store { return c.session }

func (c *Client) Provider() Provider { return c.provider }

// Initialize recovers the persisted provider session.
func (c *Client) Initialize(ctx context.Context) error {
	return c.session.Initialize(ctx)
}

// Table returns the collection called name.
func (c *Client) Table(name string) (Table, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Tables returns every collection in menu order.
func (c *Client) Tables() []Table {
	out := make([]Table, 0, len(collections.Names))
	for _, n := range collections.Names {
		out = append(out, c.tables[n])
	}
	return out
}

// Touch marks the client as used now.
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// LastSeen returns the time of the last Touch.
func (c *Client) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Busy reports whether any collection has an active viewer.
func (c *Client) Busy() bool {
	for _, t := range c.tables {
		if t.Active() {
			return true
		}
	}
	return false
}

// Close releases every feed and detaches from the provider. The session
// itself is left as it was; the provider token stays valid.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		for _, t := range c.tables {
			t.Close()
		}
		c.session.Close()
		c.provider.Close()
		c.log.Debug("desk client closed")
	})
}
