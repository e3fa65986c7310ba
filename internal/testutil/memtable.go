package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/dalemusser/opsdesk/internal/app/system/changefeed"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned by MemTable.Update for an unknown id.
var ErrNotFound = errors.New("record not found")

// ErrDisconnected ends streams broken by MemTable.Disconnect.
var ErrDisconnected = errors.New("stream disconnected")

// MemTable is an in-memory record store with a change feed. It stands in
// for the Mongo record store in engine tests.
type MemTable[R models.Record] struct {
	mu       sync.Mutex
	name     string
	withID   func(R, primitive.ObjectID) R
	order    []string
	rows     map[string]R
	seq      uint64
	watchers map[*memStream[R]]struct{}

	// Fail* make the next calls of that kind fail until reset to nil.
	FailQuery  error
	FailInsert error
	FailUpdate error
	FailDelete error
	FailWatch  error

	// AfterQuery, when set, runs after Query has taken its snapshot (or
	// decided to fail) and before it returns, outside the table lock.
	AfterQuery func()

	queries int
	watches int
}

// NewMemTable returns an empty table. withID sets the id of a record.
func NewMemTable[R models.Record](name string, withID func(R, primitive.ObjectID) R) *MemTable[R] {
	return &MemTable[R]{
		name:     name,
		withID:   withID,
		rows:     make(map[string]R),
		watchers: make(map[*memStream[R]]struct{}),
	}
}

// NewProjectTable returns a MemTable of projects.
func NewProjectTable() *MemTable[models.Project] {
	return NewMemTable("projects", models.Project.WithID)
}

// NewInventoryTable returns a MemTable of inventory items.
func NewInventoryTable() *MemTable[models.InventoryItem] {
	return NewMemTable("inventory", models.InventoryItem.WithID)
}

// NewEmployeeTable returns a MemTable of employees.
func NewEmployeeTable() *MemTable[models.Employee] {
	return NewMemTable("employees", models.Employee.WithID)
}

// NewTransactionTable returns a MemTable of transactions.
func NewTransactionTable() *MemTable[models.Transaction] {
	return NewMemTable("transactions", models.Transaction.WithID)
}

// Seed stores records without emitting events and returns them with ids.
func (m *MemTable[R]) Seed(recs ...R) []R {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]R, 0, len(recs))
	for _, r := range recs {
		if r.RecordID() == "" {
			r = m.withID(r, primitive.NewObjectID())
		}
		m.seq++
		m.put(r)
		out = append(out, r)
	}
	return out
}

func (m *MemTable[R]) put(r R) {
	id := r.RecordID()
	if _, ok := m.rows[id]; !ok {
		m.order = append(m.order, id)
	}
	m.rows[id] = r
}

// Seq returns the last commit sequence.
func (m *MemTable[R]) Seq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// Queries returns how many times Query ran.
func (m *MemTable[R]) Queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

// Watches returns how many streams were opened.
func (m *MemTable[R]) Watches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watches
}

// Len returns the number of stored rows.
func (m *MemTable[R]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *MemTable[R]) Query(ctx context.Context) ([]R, uint64, error) {
	m.mu.Lock()
	m.queries++
	if m.FailQuery != nil {
		err := m.FailQuery
		hook := m.AfterQuery
		m.mu.Unlock()
		if hook != nil {
			hook()
		}
		return nil, 0, err
	}
	out := make([]R, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rows[id])
	}
	asOf := m.seq
	hook := m.AfterQuery
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, asOf, nil
}

func (m *MemTable[R]) Insert(ctx context.Context, rec R) (R, uint64, error) {
	var zero R
	m.mu.Lock()
	if m.FailInsert != nil {
		err := m.FailInsert
		m.mu.Unlock()
		return zero, 0, err
	}
	rec = m.withID(rec, primitive.NewObjectID())
	m.seq++
	m.put(rec)
	ev := changefeed.Event[R]{Collection: m.name, Op: changefeed.OpInsert, ID: rec.RecordID(), Record: rec, Seq: m.seq}
	m.broadcastLocked(ev)
	m.mu.Unlock()
	return rec, ev.Seq, nil
}

func (m *MemTable[R]) Update(ctx context.Context, rec R) (R, uint64, error) {
	var zero R
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpdate != nil {
		return zero, 0, m.FailUpdate
	}
	id := rec.RecordID()
	if _, ok := m.rows[id]; !ok {
		return zero, 0, ErrNotFound
	}
	m.seq++
	m.put(rec)
	ev := changefeed.Event[R]{Collection: m.name, Op: changefeed.OpUpdate, ID: id, Record: rec, Seq: m.seq}
	m.broadcastLocked(ev)
	return rec, ev.Seq, nil
}

func (m *MemTable[R]) Delete(ctx context.Context, id string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete != nil {
		return 0, m.FailDelete
	}
	if _, ok := m.rows[id]; !ok {
		return m.seq, nil
	}
	delete(m.rows, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.seq++
	m.broadcastLocked(changefeed.Event[R]{Collection: m.name, Op: changefeed.OpDelete, ID: id, Seq: m.seq})
	return m.seq, nil
}

// SetFailWatch sets FailWatch under the table lock, for use while a
// feed goroutine is running.
func (m *MemTable[R]) SetFailWatch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWatch = err
}

// Emit pushes ev to every open stream without touching stored rows.
func (m *MemTable[R]) Emit(ev changefeed.Event[R]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcastLocked(ev)
}

// Disconnect breaks every open stream.
func (m *MemTable[R]) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.watchers {
		s.fail(ErrDisconnected)
		delete(m.watchers, s)
	}
}

func (m *MemTable[R]) broadcastLocked(ev changefeed.Event[R]) {
	for s := range m.watchers {
		select {
		case s.ch <- ev:
		default:
			s.fail(errors.New("subscriber buffer overflow"))
			delete(m.watchers, s)
		}
	}
}

func (m *MemTable[R]) Watch(ctx context.Context) (changefeed.Stream[R], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watches++
	if m.FailWatch != nil {
		return nil, m.FailWatch
	}
	s := &memStream[R]{
		ch:     make(chan changefeed.Event[R], 256),
		broken: make(chan struct{}),
		owner:  m,
	}
	m.watchers[s] = struct{}{}
	return s, nil
}

type memStream[R models.Record] struct {
	ch     chan changefeed.Event[R]
	broken chan struct{}
	once   sync.Once
	err    error
	owner  *MemTable[R]
}

func (s *memStream[R]) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.broken)
	})
}

func (s *memStream[R]) Next(ctx context.Context) (changefeed.Event[R], error) {
	var zero changefeed.Event[R]
	select {
	case ev := <-s.ch:
		return ev, nil
	default:
	}
	select {
	case ev := <-s.ch:
		return ev, nil
	case <-s.broken:
		return zero, s.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *memStream[R]) Close(ctx context.Context) error {
	s.owner.mu.Lock()
	delete(s.owner.watchers, s)
	s.owner.mu.Unlock()
	s.fail(errors.New("stream closed"))
	return nil
}
