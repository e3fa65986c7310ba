// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers
// the framework-level settings (ports, TLS, logging, CORS); everything
// the desk itself needs lives here.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Browser cookie
	SessionKey    string        // secret for signing the cookie (must be strong in production)
	SessionName   string        // cookie name (default: opsdesk-session)
	SessionDomain string        // cookie domain (blank means current host)
	SessionMaxAge time.Duration // cookie lifetime

	// Identity provider tokens
	TokenTTL             time.Duration // lifetime of an issued token
	TokenRefreshWindow   time.Duration // refresh tokens expiring within this window
	TokenRefreshInterval time.Duration // how often the refresher runs

	// Desk clients
	ClientIdleTimeout time.Duration // idle clients are closed after this long
	MaxClients        int           // registry bound; the least recently used client is evicted

	// Change feeds
	FeedReconnectMax  time.Duration // upper bound of the reconnect backoff
	FeedDegradedAfter int           // consecutive failed connects before a feed reports degraded

	// Google OAuth (both blank disables Google sign-in)
	GoogleClientID     string
	GoogleClientSecret string

	// BaseURL is the public origin, used for the OAuth callback.
	BaseURL string

	// AdminEmail, when set, is guaranteed an account holding the admin
	// role at startup. AdminPassword is used only if the account is new;
	// blank means the account signs in with Google.
	AdminEmail    string
	AdminPassword string

	// LoginRateLimit is the number of sign-in attempts allowed per IP per minute.
	LoginRateLimit int

	// SignupEnabled opens POST /signup. Registered accounts get no roles.
	SignupEnabled bool
}
