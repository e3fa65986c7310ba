// Package roles resolves the role names assigned to an identity.
//
// Nothing is cached here. The session store calls ResolveRoles on every
// authentication and keeps the result for the life of that session.
package roles

import (
	"context"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"go.uber.org/zap"
)

// Querier reads role assignments from the backing store.
type Querier interface {
	QueryRoles(ctx context.Context, userID string) ([]string, error)
}

// Resolver implements session.RoleResolver.
type Resolver struct {
	q   Querier
	log *zap.Logger
}

// NewResolver wraps q.
func NewResolver(q Querier, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{q: q, log: logger}
}

// ResolveRoles returns the normalized role set of id. Any store failure
// is returned as *apperr.LookupError.
func (r *Resolver) ResolveRoles(ctx context.Context, id session.Identity) ([]string, error) {
	names, err := r.q.QueryRoles(ctx, id.ID)
	if err != nil {
		return nil, &apperr.LookupError{UserID: id.ID, Err: err}
	}
	out := session.NormalizeRoles(names)
	r.log.Debug("roles resolved", zap.String("user_id", id.ID), zap.Strings("roles", out))
	return out, nil
}
