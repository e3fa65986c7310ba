// internal/app/system/workers/clientreaper.go
package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reaper is the registry operation the ClientReaper drives.
type Reaper interface {
	ReapIdle(maxIdle time.Duration, now time.Time) int
}

// ClientReaper is a background worker that closes idle desk clients,
// releasing their change feeds.
type ClientReaper struct {
	clients  Reaper
	log      *zap.Logger
	interval time.Duration
	maxIdle  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClientReaper creates a reaper.
//
// Parameters:
//   - clients: the desk registry
//   - logger: zap logger
//   - interval: how often to sweep (e.g., 1 minute)
//   - maxIdle: how long a client must go unused before it is closed
func NewClientReaper(clients Reaper, logger *zap.Logger, interval, maxIdle time.Duration) *ClientReaper {
	return &ClientReaper{
		clients:  clients,
		log:      logger,
		interval: interval,
		maxIdle:  maxIdle,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (w *ClientReaper) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("client reaper started",
		zap.Duration("interval", w.interval),
		zap.Duration("max_idle", w.maxIdle))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *ClientReaper) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.log.Info("client reaper stopped")
}

func (w *ClientReaper) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(time.Now())
		}
	}
}

// Sweep closes clients idle at now and returns how many.
func (w *ClientReaper) Sweep(now time.Time) int {
	n := w.clients.ReapIdle(w.maxIdle, now)
	if n > 0 {
		w.log.Info("closed idle desk clients", zap.Int("count", n))
	}
	return n
}
