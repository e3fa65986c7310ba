// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for OpsDesk.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: OPSDESK_MONGO_URI, OPSDESK_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017/?replicaSet=rs0", Desc: "MongoDB connection URI (a replica set is needed for live updates)"},
	{Name: "mongo_database", Default: "opsdesk", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "opsdesk-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "720h", Desc: "Session cookie lifetime"},

	// Identity tokens
	{Name: "token_ttl", Default: "12h", Desc: "Lifetime of an issued sign-in token"},
	{Name: "token_refresh_window", Default: "30m", Desc: "Refresh tokens expiring within this window"},
	{Name: "token_refresh_interval", Default: "1m", Desc: "How often the token refresher runs"},

	// Desk clients
	{Name: "client_idle_timeout", Default: "30m", Desc: "Close desk clients unused for this long"},
	{Name: "max_clients", Default: 5000, Desc: "Maximum live desk clients before the least recently used is evicted"},

	// Change feeds
	{Name: "feed_reconnect_max", Default: "30s", Desc: "Upper bound of the change feed reconnect backoff"},
	{Name: "feed_degraded_after", Default: 3, Desc: "Failed connects before a change feed reports degraded"},

	// Google OAuth configuration
	{Name: "google_client_id", Default: "", Desc: "Google OAuth2 client ID"},
	{Name: "google_client_secret", Default: "", Desc: "Google OAuth2 client secret"},

	// Bootstrap administrator
	{Name: "admin_email", Default: "", Desc: "Email guaranteed an admin account at startup"},
	{Name: "admin_password", Default: "", Desc: "Password for a newly created admin account (blank: Google sign-in)"},

	{Name: "base_url", Default: "http://localhost:3000", Desc: "Public base URL (OAuth callback origin)"},
	{Name: "login_rate_limit", Default: 10, Desc: "Sign-in attempts allowed per IP per minute"},
	{Name: "signup_enabled", Default: true, Desc: "Allow visitors to register their own account (no roles)"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles .env files, config files,
// environment variables (WAFFLE_* for core, OPSDESK_* for app) and flags,
// merged with precedence flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "OPSDESK", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		SessionKey:    appValues.String("session_key"),
		SessionName:   appValues.String("session_name"),
		SessionDomain: appValues.String("session_domain"),
		SessionMaxAge: appValues.Duration("session_max_age", 30*24*time.Hour),

		TokenTTL:             appValues.Duration("token_ttl", 12*time.Hour),
		TokenRefreshWindow:   appValues.Duration("token_refresh_window", 30*time.Minute),
		TokenRefreshInterval: appValues.Duration("token_refresh_interval", time.Minute),

		ClientIdleTimeout: appValues.Duration("client_idle_timeout", 30*time.Minute),
		MaxClients:        appValues.Int("max_clients"),

		FeedReconnectMax:  appValues.Duration("feed_reconnect_max", 30*time.Second),
		FeedDegradedAfter: appValues.Int("feed_degraded_after"),

		GoogleClientID:     appValues.String("google_client_id"),
		GoogleClientSecret: appValues.String("google_client_secret"),

		AdminEmail:    strings.TrimSpace(appValues.String("admin_email")),
		AdminPassword: appValues.String("admin_password"),

		BaseURL:        strings.TrimRight(appValues.String("base_url"), "/"),
		LoginRateLimit: appValues.Int("login_rate_limit"),
		SignupEnabled:  appValues.Bool("signup_enabled"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	var problems []string
	if strings.TrimSpace(appCfg.SessionKey) == "" {
		problems = append(problems, "session_key is required")
	}
	if appCfg.MaxClients <= 0 {
		problems = append(problems, "max_clients must be positive")
	}
	if appCfg.FeedDegradedAfter <= 0 {
		problems = append(problems, "feed_degraded_after must be positive")
	}
	if appCfg.TokenRefreshWindow >= appCfg.TokenTTL {
		problems = append(problems, "token_refresh_window must be shorter than token_ttl")
	}
	if (appCfg.GoogleClientID == "") != (appCfg.GoogleClientSecret == "") {
		problems = append(problems, "google_client_id and google_client_secret must be set together")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}

	if coreCfg != nil && coreCfg.Env == "prod" && strings.HasPrefix(appCfg.SessionKey, "dev-only") {
		logger.Warn("running in prod with the development session key")
	}
	return nil
}
