// internal/app/system/workers/tokenrefresher.go
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/app/system/desk"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Clients is the registry view the TokenRefresher walks.
type Clients interface {
	Each(fn func(*desk.Client))
}

// TokenRefresher extends provider tokens that are about to expire. A
// token the provider no longer honors signs its client out, which is how
// revocations reach live sessions.
type TokenRefresher struct {
	clients  Clients
	log      *zap.Logger
	interval time.Duration
	window   time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTokenRefresher creates a refresher that runs every interval and
// refreshes tokens expiring within window.
func NewTokenRefresher(clients Clients, logger *zap.Logger, interval, window time.Duration) *TokenRefresher {
	return &TokenRefresher{
		clients:  clients,
		log:      logger,
		interval: interval,
		window:   window,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background refresh loop.
func (w *TokenRefresher) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("token refresher started",
		zap.Duration("interval", w.interval),
		zap.Duration("window", w.window))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *TokenRefresher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.log.Info("token refresher stopped")
}

func (w *TokenRefresher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RefreshDue(context.Background(), time.Now())
		}
	}
}

// RefreshDue refreshes every signed-in client whose token expires within
// the window of now. It returns how many were refreshed and how many were
// signed out.
func (w *TokenRefresher) RefreshDue(ctx context.Context, now time.Time) (refreshed, signedOut int) {
	var due []*desk.Client
	w.clients.Each(func(c *desk.Client) {
		p := c.Provider()
		if p.Token() == "" {
			return
		}
		if p.ExpiresAt().Sub(now) > w.window {
			return
		}
		due = append(due, c)
	})

	for _, c := range due {
		rctx, cancel := context.WithTimeout(ctx, timeouts.Lookup())
		err := c.Provider().Refresh(rctx)
		cancel()
		switch {
		case err == nil:
			refreshed++
		case apperr.IsAuth(err):
			signedOut++
		default:
			w.log.Warn("token refresh failed",
				zap.String("client_id", c.ID()),
				zap.Error(err))
		}
	}
	if refreshed > 0 || signedOut > 0 {
		w.log.Info("tokens refreshed",
			zap.Int("refreshed", refreshed),
			zap.Int("signed_out", signedOut))
	}
	return refreshed, signedOut
}
