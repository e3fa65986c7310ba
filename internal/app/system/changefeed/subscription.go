package changefeed

import (
	"context"
	"sync"
)

// Subscription is a running feed. Close releases it and is safe to call
// more than once.
type Subscription struct {
	name   string
	opts   Options
	cancel context.CancelFunc
	done   chan struct{}

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once

	mu    sync.Mutex
	state State
}

func newSubscription(name string, cancel context.CancelFunc, opts Options) *Subscription {
	return &Subscription{
		name:   name,
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
		state:  StateConnecting,
	}
}

// Name returns the collection name.
func (s *Subscription) Name() string { return s.name }

// Ready is closed once the first connect attempt has finished, whether
// or not it succeeded.
func (s *Subscription) Ready() <-chan struct{} { return s.ready }

// Done is closed when the feed goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// State returns the current health of the feed.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close stops the feed and waits for its goroutine to exit. No events are
// delivered to the sink after Close returns.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *Subscription) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Subscription) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}
