// Package timeouts provides centralized timeout values for store and
// provider calls.
//
// Guidelines for choosing a timeout:
//   - Ping: health checks and connectivity verification
//   - Lookup: role and identity lookups, token checks
//   - Query: full collection fetches
//   - Write: inserts, updates, deletes and role assignments
//
// Values can be overridden at startup with Configure or ConfigureFromEnv.
package timeouts

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default timeout values (used if Configure is not called).
const (
	DefaultPing   = 2 * time.Second
	DefaultLookup = 5 * time.Second
	DefaultQuery  = 15 * time.Second
	DefaultWrite  = 10 * time.Second
)

var mu sync.RWMutex

var (
	ping   = DefaultPing
	lookup = DefaultLookup
	query  = DefaultQuery
	write  = DefaultWrite
)

// Ping returns the timeout for health checks.
func Ping() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return ping
}

// Lookup returns the timeout for single-document reads such as role
// resolution and token verification.
func Lookup() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return lookup
}

// Query returns the timeout for loading a whole collection.
func Query() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return query
}

// Write returns the timeout for a single mutation.
func Write() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return write
}

// Config holds timeout configuration values.
// Zero values are ignored (current values are kept).
type Config struct {
	Ping   time.Duration
	Lookup time.Duration
	Query  time.Duration
	Write  time.Duration
}

// Configure sets custom timeout values. Call during startup.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if cfg.Ping > 0 {
		ping = cfg.Ping
	}
	if cfg.Lookup > 0 {
		lookup = cfg.Lookup
	}
	if cfg.Query > 0 {
		query = cfg.Query
	}
	if cfg.Write > 0 {
		write = cfg.Write
	}
}

// Reset restores the defaults. Useful for testing.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	ping = DefaultPing
	lookup = DefaultLookup
	query = DefaultQuery
	write = DefaultWrite
}

// ConfigureFromEnv reads TIMEOUT_PING, TIMEOUT_LOOKUP, TIMEOUT_QUERY and
// TIMEOUT_WRITE (Go duration strings). Unset or invalid values are skipped.
// Returns the number of values applied.
func ConfigureFromEnv() int {
	var cfg Config
	n := 0
	for name, dst := range map[string]*time.Duration{
		"TIMEOUT_PING":   &cfg.Ping,
		"TIMEOUT_LOOKUP": &cfg.Lookup,
		"TIMEOUT_QUERY":  &cfg.Query,
		"TIMEOUT_WRITE":  &cfg.Write,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
			n++
		}
	}
	Configure(cfg)
	return n
}

// Current returns the active configuration, for logging.
func Current() Config {
	mu.RLock()
	defer mu.RUnlock()
	return Config{Ping: ping, Lookup: lookup, Query: query, Write: write}
}

// WithTimeout creates a context with timeout and returns a cancel function
// that logs a warning if the deadline was hit.
//
//	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Query(), log, "load inventory")
//	defer cancel()
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if ctx.Err() == context.DeadlineExceeded && log != nil {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout),
			)
		}
		cancel()
	}
}
