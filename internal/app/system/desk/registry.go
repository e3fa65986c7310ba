package desk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ProviderFactory builds the provider client for a new desk. token is the
// token persisted in the browser, or "".
type ProviderFactory func(token string) Provider

// Registry holds the live desk clients. It is bounded: adding a client
// beyond the size evicts, and closes, the least recently used one.
type Registry struct {
	cache       *lru.Cache[string, *Client]
	backends    Backends
	newProvider ProviderFactory
	log         *zap.Logger
}

// NewRegistry creates a registry holding at most size clients.
func NewRegistry(size int, b Backends, newProvider ProviderFactory) (*Registry, error) {
	log := b.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cache, err := lru.NewWithEvict[string, *Client](size, func(id string, c *Client) {
		log.Debug("desk client evicted", zap.String("client_id", id))
		c.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("desk registry: %w", err)
	}
	return &Registry{cache: cache, backends: b, newProvider: newProvider, log: log}, nil
}

// Get returns the client with id and marks it used.
func (r *Registry) Get(id string) (*Client, bool) {
	if id == "" {
		return nil, false
	}
	c, ok := r.cache.Get(id)
	if ok {
		c.Touch()
	}
	return c, ok
}

// Create builds a client for token, recovers its session and registers it.
// A recovery failure is logged and leaves the client ANONYMOUS; the client
// is still returned.
func (r *Registry) Create(ctx context.Context, token string) *Client {
	id := uuid.NewString()
	c := NewClient(id, r.newProvider(token), r.backends)
	if err := c.Initialize(ctx); err != nil {
		r.log.Info("session recovery failed; starting signed out",
			zap.String("client_id", id),
			zap.Error(err))
	}
	r.cache.Add(id, c)
	return c
}

// Remove closes and forgets the client with id.
func (r *Registry) Remove(id string) {
	r.cache.Remove(id)
}

// Each calls fn for every client without changing recency.
func (r *Registry) Each(fn func(*Client)) {
	for _, id := range r.cache.Keys() {
		if c, ok := r.cache.Peek(id); ok {
			fn(c)
		}
	}
}

// Len returns the number of live clients.
func (r *Registry) Len() int { return r.cache.Len() }

// ReapIdle closes clients not used for maxIdle that have no active
// viewer. It returns how many were closed.
func (r *Registry) ReapIdle(maxIdle time.Duration, now time.Time) int {
	var idle []string
	r.Each(func(c *Client) {
		if now.Sub(c.LastSeen()) > maxIdle && !c.Busy() {
			idle = append(idle, c.ID())
		}
	})
	for _, id := range idle {
		r.cache.Remove(id)
	}
	return len(idle)
}

// Close closes every client.
func (r *Registry) Close() {
	r.cache.Purge()
}
