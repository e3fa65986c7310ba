package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Expirer deletes expired rows and reports how many.
type Expirer interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// StateCleanup removes expired OAuth states between TTL monitor passes.
type StateCleanup struct {
	states   Expirer
	log      *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewStateCleanup(states Expirer, logger *zap.Logger, interval time.Duration) *StateCleanup {
	return &StateCleanup{
		states:   states,
		log:      logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (w *StateCleanup) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *StateCleanup) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *StateCleanup) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.cleanup()
		}
	}
}

func (w *StateCleanup) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := w.states.CleanupExpired(ctx)
	if err != nil {
		w.log.Error("failed to remove expired oauth states", zap.Error(err))
		return
	}
	if n > 0 {
		w.log.Debug("removed expired oauth states", zap.Int64("count", n))
	}
}
