// Package mutation turns add, update and delete intents into confirmed
// writes. Payloads are normalized and validated locally before any store
// call, and only a write the store confirmed reaches the projection.
package mutation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/changefeed"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"go.uber.org/zap"
)

// Op is a mutation intent.
type Op int

const (
	OpAdd Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseOp maps "add", "update" or "delete" (any case) to an Op.
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add":
		return OpAdd, nil
	case "update":
		return OpUpdate, nil
	case "delete":
		return OpDelete, nil
	}
	return 0, fmt.Errorf("unknown mutation %q", s)
}

func (o Op) feedOp() changefeed.Op {
	switch o {
	case OpAdd:
		return changefeed.OpInsert
	case OpUpdate:
		return changefeed.OpUpdate
	default:
		return changefeed.OpDelete
	}
}

// Writer is the authoritative store. Each call returns the commit
// sequence of the write, or 0 when unknown. Delete of a missing id
// succeeds.
type Writer[R models.Record] interface {
	Insert(ctx context.Context, rec R) (R, uint64, error)
	Update(ctx context.Context, rec R) (R, uint64, error)
	Delete(ctx context.Context, id string) (uint64, error)
}

// Applier receives confirmed writes.
type Applier[R models.Record] interface {
	ApplyMutationResult(op changefeed.Op, rec R, seq uint64)
}

// Rules are the collection-specific field checks.
type Rules[R models.Record] interface {
	// Normalize trims and sanitizes free-text fields.
	Normalize(rec R) R
	// Validate returns a *apperr.ValidationError listing every bad field.
	Validate(rec R) error
}

// Coordinator serializes the mutations of one collection for one client.
type Coordinator[R models.Record] struct {
	name  string
	w     Writer[R]
	apply Applier[R]
	rules Rules[R]
	log   *zap.Logger

	mu sync.Mutex
}

// New builds a Coordinator.
func New[R models.Record](name string, w Writer[R], a Applier[R], rules Rules[R], logger *zap.Logger) *Coordinator[R] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator[R]{name: name, w: w, apply: a, rules: rules, log: logger}
}

// Submit validates payload, writes it and applies the confirmed record.
//
// Errors:
//   - *apperr.ValidationError when the payload is rejected locally; the
//     store is not called.
//   - *apperr.StoreError when the store rejects or fails the write; the
//     projection is not touched.
//
// For OpDelete only the payload's id is used and the returned record is
// the payload itself.
func (c *Coordinator[R]) Submit(ctx context.Context, op Op, payload R) (R, error) {
	var zero R

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(op, payload); err != nil {
		return zero, err
	}

	wctx, cancel := timeouts.WithTimeout(ctx, timeouts.Write(), c.log, op.String()+" "+c.name)
	defer cancel()

	var (
		rec R
		seq uint64
		err error
	)
	switch op {
	case OpAdd:
		rec, seq, err = c.w.Insert(wctx, c.rules.Normalize(payload))
	case OpUpdate:
		rec, seq, err = c.w.Update(wctx, c.rules.Normalize(payload))
	case OpDelete:
		rec = payload
		seq, err = c.w.Delete(wctx, payload.RecordID())
	}
	if err != nil {
		err = apperr.Store(op.String(), c.name, err)
		c.log.Warn("mutation failed",
			zap.String("collection", c.name),
			zap.Stringer("op", op),
			zap.String("id", payload.RecordID()),
			zap.Error(err))
		return zero, err
	}

	c.apply.ApplyMutationResult(op.feedOp(), rec, seq)
	c.log.Debug("mutation applied",
		zap.String("collection", c.name),
		zap.Stringer("op", op),
		zap.String("id", rec.RecordID()),
		zap.Uint64("seq", seq))
	return rec, nil
}

func (c *Coordinator[R]) check(op Op, payload R) error {
	ve := &apperr.ValidationError{}
	switch op {
	case OpAdd:
		if payload.RecordID() != "" {
			ve.Add("id", "must be empty for a new record")
		}
	case OpUpdate, OpDelete:
		if payload.RecordID() == "" {
			ve.Add("id", "is required")
		}
	default:
		ve.Add("op", "unknown mutation")
	}
	if err := ve.OrNil(); err != nil {
		return err
	}
	if op == OpDelete {
		return nil
	}
	return c.rules.Validate(c.rules.Normalize(payload))
}
