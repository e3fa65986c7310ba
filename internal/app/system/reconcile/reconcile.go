// Package reconcile keeps the local projection of one collection
// consistent while full fetches, change events and confirmed mutations
// arrive in any order.
//
// Rules:
//   - A full fetch replaces the projection and records its sequence as
//     the floor. Events at or below the floor are already reflected in
//     the fetch and are skipped.
//   - Per id, the sequence of the last applied change is remembered
//     (deleted ids included), so duplicate and out-of-order events are
//     no-ops. Ids are never reused, so a deleted id stays deleted.
//   - Events that arrive while a fetch is in flight are held and replayed
//     on top of whichever projection survives the fetch. Confirmed
//     mutations are applied immediately and held for replay as well.
//   - Every fetch and Invalidate bumps a generation counter. A fetch
//     result whose generation is no longer current is discarded.
package reconcile

import (
	"context"
	"sync"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/changefeed"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"go.uber.org/zap"
)

// Loader fetches the whole collection. asOf is the commit sequence the
// result reflects; 0 means unknown.
type Loader[R models.Record] interface {
	Query(ctx context.Context) (records []R, asOf uint64, err error)
}

// Reconciler owns the projection of one collection for one client.
type Reconciler[R models.Record] struct {
	name   string
	loader Loader[R]
	log    *zap.Logger

	mu      sync.Mutex
	order   []string
	items   map[string]R
	lastSeq map[string]uint64
	floor   uint64
	loaded  bool
	loadErr error

	gen        uint64
	loadingGen uint64
	loading    bool
	pending    []changefeed.Event[R]

	subs    map[int]func([]R)
	nextSub int
}

// New returns an empty, unloaded reconciler.
func New[R models.Record](name string, loader Loader[R], logger *zap.Logger) *Reconciler[R] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler[R]{
		name:    name,
		loader:  loader,
		log:     logger,
		items:   make(map[string]R),
		lastSeq: make(map[string]uint64),
		subs:    make(map[int]func([]R)),
	}
}

// Name returns the collection name.
func (rc *Reconciler[R]) Name() string { return rc.name }

// LoadInitial fetches the collection and replaces the projection. On
// failure the previous projection is kept and a StoreError is returned.
// A result superseded by a newer LoadInitial or by Invalidate is dropped.
func (rc *Reconciler[R]) LoadInitial(ctx context.Context) error {
	rc.mu.Lock()
	rc.gen++
	gen := rc.gen
	rc.loading = true
	rc.loadingGen = gen
	rc.mu.Unlock()

	qctx, cancel := timeouts.WithTimeout(ctx, timeouts.Query(), rc.log, "load "+rc.name)
	records, asOf, err := rc.loader.Query(qctx)
	cancel()

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if gen != rc.gen {
		rc.log.Debug("discarding superseded fetch",
			zap.String("collection", rc.name),
			zap.Uint64("generation", gen),
			zap.Uint64("current", rc.gen))
		return nil
	}
	rc.loading = false
	pending := rc.pending
	rc.pending = nil

	if err != nil {
		err = apperr.Store("query", rc.name, err)
		rc.loadErr = err
		rc.log.Warn("collection fetch failed; keeping previous projection",
			zap.String("collection", rc.name),
			zap.Error(err))
		for _, ev := range pending {
			rc.applyLocked(ev)
		}
		rc.notifyLocked()
		return err
	}

	rc.order = rc.order[:0]
	rc.items = make(map[string]R, len(records))
	rc.lastSeq = make(map[string]uint64)
	rc.floor = asOf
	for _, r := range records {
		id := r.RecordID()
		if _, dup := rc.items[id]; dup {
			continue
		}
		rc.items[id] = r
		rc.order = append(rc.order, id)
	}
	rc.loaded = true
	rc.loadErr = nil

	replayed := 0
	for _, ev := range pending {
		if rc.applyLocked(ev) {
			replayed++
		}
	}
	rc.log.Debug("collection loaded",
		zap.String("collection", rc.name),
		zap.Int("records", len(rc.order)),
		zap.Uint64("as_of", asOf),
		zap.Int("replayed", replayed))
	rc.notifyLocked()
	return nil
}

// Resync implements changefeed.Sink.
func (rc *Reconciler[R]) Resync(ctx context.Context) error {
	return rc.LoadInitial(ctx)
}

// ApplyChangeEvent merges one feed event. It is idempotent.
func (rc *Reconciler[R]) ApplyChangeEvent(ev changefeed.Event[R]) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.loading && rc.loadingGen == rc.gen {
		rc.pending = append(rc.pending, ev)
		return
	}
	if rc.applyLocked(ev) {
		rc.notifyLocked()
	}
}

// ApplyMutationResult applies a write the store has confirmed. seq is the
// commit sequence of the write when known, so that its feed echo is a
// no-op. The write is visible at once, even while a fetch is in flight;
// it is also replayed over that fetch's result.
func (rc *Reconciler[R]) ApplyMutationResult(op changefeed.Op, rec R, seq uint64) {
	ev := changefeed.Event[R]{
		Collection: rc.name,
		Op:         op,
		ID:         rec.RecordID(),
		Record:     rec,
		Seq:        seq,
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.loading && rc.loadingGen == rc.gen {
		rc.pending = append(rc.pending, ev)
	}
	if rc.applyLocked(ev) {
		rc.notifyLocked()
	}
}

// applyLocked reports whether the projection changed.
func (rc *Reconciler[R]) applyLocked(ev changefeed.Event[R]) bool {
	id := ev.ID
	if id == "" && ev.Op != changefeed.OpDelete {
		id = ev.Record.RecordID()
	}
	if id == "" {
		return false
	}
	if ev.Seq != 0 {
		if ev.Seq <= rc.floor || ev.Seq <= rc.lastSeq[id] {
			return false
		}
		rc.lastSeq[id] = ev.Seq
	}

	switch ev.Op {
	case changefeed.OpInsert, changefeed.OpUpdate:
		if _, exists := rc.items[id]; !exists {
			rc.order = append(rc.order, id)
		}
		rc.items[id] = ev.Record
		return true
	case changefeed.OpDelete:
		if _, exists := rc.items[id]; !exists {
			return false
		}
		delete(rc.items, id)
		for i, oid := range rc.order {
			if oid == id {
				rc.order = append(rc.order[:i], rc.order[i+1:]...)
				break
			}
		}
		return true
	}
	return false
}

// Snapshot returns the projection in display order: fetch order first,
// then records in the order they were first seen.
func (rc *Reconciler[R]) Snapshot() []R {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.snapshotLocked()
}

func (rc *Reconciler[R]) snapshotLocked() []R {
	out := make([]R, 0, len(rc.order))
	for _, id := range rc.order {
		out = append(out, rc.items[id])
	}
	return out
}

// Get returns the record with id.
func (rc *Reconciler[R]) Get(id string) (R, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	r, ok := rc.items[id]
	return r, ok
}

// Loaded reports whether a fetch has succeeded since the last Invalidate.
func (rc *Reconciler[R]) Loaded() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.loaded
}

// LastLoadError returns the error of the most recent failed fetch, or nil
// once a fetch has succeeded.
func (rc *Reconciler[R]) LastLoadError() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.loadErr
}

// SubscribeProjection registers cb for every projection change. cb runs
// with the reconciler locked and must not call back into it.
func (rc *Reconciler[R]) SubscribeProjection(cb func([]R)) (unsubscribe func()) {
	rc.mu.Lock()
	id := rc.nextSub
	rc.nextSub++
	rc.subs[id] = cb
	rc.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			rc.mu.Lock()
			delete(rc.subs, id)
			rc.mu.Unlock()
		})
	}
}

// Invalidate forgets the projection and discards any in-flight fetch.
// Called when the last viewer of the collection goes away.
func (rc *Reconciler[R]) Invalidate() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.gen++
	rc.loading = false
	rc.pending = nil
	rc.order = nil
	rc.items = make(map[string]R)
	rc.lastSeq = make(map[string]uint64)
	rc.floor = 0
	rc.loaded = false
	rc.loadErr = nil
}

func (rc *Reconciler[R]) notifyLocked() {
	if len(rc.subs) == 0 {
		return
	}
	snap := rc.snapshotLocked()
	for _, cb := range rc.subs {
		cb(snap)
	}
}
