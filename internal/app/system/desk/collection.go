package desk

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/changefeed"
	"github.com/dalemusser/opsdesk/internal/app/system/mutation"
	"github.com/dalemusser/opsdesk/internal/app/system/reconcile"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ErrClosed is returned by Activate after the owning client was closed.
var ErrClosed = errors.New("desk client closed")

// Backend is everything a collection needs from its store.
type Backend[R models.Record] interface {
	reconcile.Loader[R]
	mutation.Writer[R]
	changefeed.Source[R]
}

// Identified records can be given an id.
type Identified[R any] interface {
	models.Record
	WithID(id primitive.ObjectID) R
}

// View is the JSON form of a collection sent to the UI.
type View struct {
	Collection string `json:"collection"`
	Records    any    `json:"records"`
	Loaded     bool   `json:"loaded"`
	Feed       string `json:"feed"`
	Error      string `json:"error,omitempty"`
}

// Table is the type-erased face of a Collection used by HTTP handlers.
type Table interface {
	Name() string
	Activate(ctx context.Context) (release func(), err error)
	Active() bool
	Load(ctx context.Context) error
	View() View
	Submit(ctx context.Context, op mutation.Op, id string, body []byte) (any, error)
	// Subscribe registers cb for projection and feed-state changes. cb
	// must not block or call back into the table.
	Subscribe(cb func()) (unsubscribe func())
	Close()
}

// Collection wires one reconciler, one coordinator and an on-demand change
// feed together. The feed runs while at least one viewer holds an
// activation.
type Collection[R Identified[R]] struct {
	name     string
	rc       *reconcile.Reconciler[R]
	mc       *mutation.Coordinator[R]
	src      changefeed.Source[R]
	feedOpts changefeed.Options
	log      *zap.Logger

	mu     sync.Mutex
	refs   int
	sub    *changefeed.Subscription
	closed bool

	lmu       sync.Mutex
	listeners map[int]func()
	nextL     int
	unproject func()
}

// NewCollection builds a Collection over backend.
func NewCollection[R Identified[R]](name string, backend Backend[R], rules mutation.Rules[R], feed changefeed.Options, logger *zap.Logger) *Collection[R] {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("collection", name))
	rc := reconcile.New[R](name, backend, logger)
	c := &Collection[R]{
		name:      name,
		rc:        rc,
		mc:        mutation.New[R](name, backend, rc, rules, logger),
		src:       backend,
		log:       logger,
		listeners: make(map[int]func()),
	}
	feed.Logger = logger
	userOnState := feed.OnState
	feed.OnState = func(st changefeed.State) {
		if userOnState != nil {
			userOnState(st)
		}
		c.notify()
	}
	c.feedOpts = feed
	c.unproject = rc.SubscribeProjection(func([]R) { c.notify() })
	return c
}

func (c *Collection[R]) Name() string { return c.name }

// Reconciler exposes the projection.
func (c *Collection[R]) Reconciler() *reconcile.Reconciler[R] { return c.rc }

// Activate starts the feed for the first viewer and waits until its first
// connect attempt has finished. The returned release must be called
// exactly once; the last release stops the feed and drops the projection.
func (c *Collection[R]) Activate(ctx context.Context) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.refs++
	if c.sub == nil {
		c.log.Debug("activating collection")
		c.sub = changefeed.Open[R](context.Background(), c.name, c.src, c.rc, c.feedOpts)
	}
	sub := c.sub
	c.mu.Unlock()

	var once sync.Once
	release := func() { once.Do(c.release) }

	select {
	case <-sub.Ready():
		return release, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}

func (c *Collection[R]) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		return
	}
	c.refs--
	if c.refs > 0 || c.sub == nil {
		return
	}
	c.stopLocked()
}

// stopLocked closes the feed and forgets the projection. Neither the
// feed goroutine nor the reconciler takes c.mu, so waiting here is safe.
func (c *Collection[R]) stopLocked() {
	sub := c.sub
	c.sub = nil
	sub.Close()
	c.rc.Invalidate()
	c.log.Debug("collection released")
	c.notify()
}

// Active reports whether a feed is running.
func (c *Collection[R]) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil
}

// FeedState returns the feed health, or "idle" when no viewer is active.
func (c *Collection[R]) FeedState() string {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil {
		return "idle"
	}
	return sub.State().String()
}

// Load fetches the collection outside of any feed, for one-shot reads.
func (c *Collection[R]) Load(ctx context.Context) error {
	return c.rc.LoadInitial(ctx)
}

func (c *Collection[R]) Records() []R { return c.rc.Snapshot() }

func (c *Collection[R]) View() View {
	v := View{
		Collection: c.name,
		Records:    c.rc.Snapshot(),
		Loaded:     c.rc.Loaded(),
		Feed:       c.FeedState(),
	}
	if err := c.rc.LastLoadError(); err != nil {
		v.Error = err.Error()
	}
	return v
}

// SubmitRecord runs a typed mutation.
func (c *Collection[R]) SubmitRecord(ctx context.Context, op mutation.Op, rec R) (R, error) {
	return c.mc.Submit(ctx, op, rec)
}

// Submit decodes body into a record, applies the path id when given and
// runs the mutation.
func (c *Collection[R]) Submit(ctx context.Context, op mutation.Op, id string, body []byte) (any, error) {
	var rec R
	if len(body) > 0 && op != mutation.OpDelete {
		if err := json.Unmarshal(body, &rec); err != nil {
			ve := &apperr.ValidationError{}
			ve.Add("body", "is not a valid "+c.name+" record")
			return nil, ve
		}
	}
	if id != "" {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			ve := &apperr.ValidationError{}
			ve.Add("id", "is not a valid id")
			return nil, ve
		}
		rec = rec.WithID(oid)
	}
	return c.mc.Submit(ctx, op, rec)
}

func (c *Collection[R]) Subscribe(cb func()) func() {
	c.lmu.Lock()
	id := c.nextL
	c.nextL++
	c.listeners[id] = cb
	c.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			delete(c.listeners, id)
			c.lmu.Unlock()
		})
	}
}

func (c *Collection[R]) notify() {
	c.lmu.Lock()
	cbs := make([]func(), 0, len(c.listeners))
	for _, cb := range c.listeners {
		cbs = append(cbs, cb)
	}
	c.lmu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// Close stops the feed regardless of outstanding activations.
func (c *Collection[R]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.refs = 0
	if c.sub != nil {
		c.stopLocked()
	}
	c.unproject()
}
