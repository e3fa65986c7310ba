// Package changefeed delivers live insert, update and delete notifications
// for one collection to a Sink.
//
// A feed is live and ordered but keeps no history: events that happen
// while it is disconnected are lost. Every (re)connect therefore opens the
// stream first and then asks the sink to resync with a full fetch, so that
// nothing committed between the fetch and the first delivered event is
// missed.
package changefeed

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"go.uber.org/zap"
)

// Op is the kind of change an Event carries.
type Op int

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the op name.
func (o Op) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Event is one committed change. Record is the full post-change document
// for INSERT and UPDATE and the zero value for DELETE. Seq is the
// server-assigned commit order; 0 means unknown.
type Event[R any] struct {
	Collection string `json:"collection"`
	Op         Op     `json:"op"`
	ID         string `json:"id"`
	Record     R      `json:"record"`
	Seq        uint64 `json:"seq"`
}

// Stream yields events until it fails or is closed.
type Stream[R any] interface {
	Next(ctx context.Context) (Event[R], error)
	Close(ctx context.Context) error
}

// Source opens streams for one collection.
type Source[R any] interface {
	Watch(ctx context.Context) (Stream[R], error)
}

// Sink consumes a feed.
type Sink[R any] interface {
	ApplyChangeEvent(ev Event[R])
	// Resync replaces the sink's state with a full fetch.
	Resync(ctx context.Context) error
}

// State describes the health of a subscription.
type State int

const (
	StateConnecting State = iota
	StateLive
	StateReconnecting
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "connecting"
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Options tune reconnect behavior. Zero values pick defaults.
type Options struct {
	Logger *zap.Logger
	// InitialInterval and MaxInterval bound the reconnect backoff.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// DegradedAfter is the number of consecutive failed connects after
	// which the subscription reports StateDegraded.
	DegradedAfter int
	// OnState is called on every state change, from the feed goroutine.
	OnState func(State)
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 30 * time.Second
	}
	if o.DegradedAfter <= 0 {
		o.DegradedAfter = 3
	}
	return o
}

// Open starts a subscription that runs until Close is called or parent is
// canceled.
func Open[R any](parent context.Context, name string, src Source[R], sink Sink[R], opts Options) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	s := newSubscription(name, cancel, opts.withDefaults())
	go run(ctx, s, src, sink)
	return s
}

func run[R any](ctx context.Context, s *Subscription, src Source[R], sink Sink[R]) {
	defer close(s.done)
	defer s.markReady()
	defer s.setState(StateClosed)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval

	failures := 0
	for {
		established, err := connect(ctx, s, src, sink)
		if ctx.Err() != nil {
			return
		}
		if established {
			failures = 0
			b.Reset()
		}
		failures++

		disc := &apperr.TransportDiscontinuity{Collection: s.name, Err: err}
		if failures >= s.opts.DegradedAfter {
			s.opts.Logger.Warn("change feed degraded; live updates unavailable",
				zap.String("collection", s.name),
				zap.Int("failures", failures),
				zap.Error(disc))
			s.setState(StateDegraded)
		} else {
			s.opts.Logger.Info("change feed interrupted; reconnecting",
				zap.String("collection", s.name),
				zap.Int("failures", failures),
				zap.Error(disc))
			s.setState(StateReconnecting)
		}
		s.markReady()

		t := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// connect runs one stream. established reports whether the stream was
// opened and the sink resynced before the failure.
func connect[R any](ctx context.Context, s *Subscription, src Source[R], sink Sink[R]) (established bool, err error) {
	stream, err := src.Watch(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = stream.Close(cctx)
	}()

	if err := sink.Resync(ctx); err != nil {
		return false, err
	}
	s.setState(StateLive)
	s.markReady()

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return true, err
		}
		sink.ApplyChangeEvent(ev)
	}
}
