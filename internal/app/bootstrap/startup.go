// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/store/identities"
	"github.com/dalemusser/opsdesk/internal/app/store/oauthstate"
	"github.com/dalemusser/opsdesk/internal/app/store/records"
	"github.com/dalemusser/opsdesk/internal/app/store/rolestore"
	"github.com/dalemusser/opsdesk/internal/app/system/accounts"
	"github.com/dalemusser/opsdesk/internal/app/system/changefeed"
	"github.com/dalemusser/opsdesk/internal/app/system/collections"
	"github.com/dalemusser/opsdesk/internal/app/system/desk"
	"github.com/dalemusser/opsdesk/internal/app/system/ratelimit"
	"github.com/dalemusser/opsdesk/internal/app/system/roles"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"github.com/dalemusser/opsdesk/internal/app/system/workers"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// stateCleanupInterval is how often expired OAuth states are removed.
const stateCleanupInterval = 10 * time.Minute

// Runtime is everything Startup builds that handlers and Shutdown need.
type Runtime struct {
	Identities *identities.Service
	Google     *identities.Google // nil when Google sign-in is off
	Accounts   *accounts.Service
	States     *oauthstate.Store
	Registry   *desk.Registry
	Limiter    *ratelimit.LoginLimiter

	refresher *workers.TokenRefresher
	reaper    *workers.ClientReaper
	cleanup   *workers.StateCleanup
}

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if n := timeouts.ConfigureFromEnv(); n > 0 {
		cur := timeouts.Current()
		logger.Info("timeouts configured from environment",
			zap.Duration("ping", cur.Ping),
			zap.Duration("lookup", cur.Lookup),
			zap.Duration("query", cur.Query),
			zap.Duration("write", cur.Write))
	}

	db := deps.MongoDatabase
	rt := deps.Runtime
	if rt == nil {
		return fmt.Errorf("startup: runtime not allocated")
	}

	// A nil *Google must reach the service as a nil interface.
	rt.Google = identities.NewGoogle(appCfg.GoogleClientID, appCfg.GoogleClientSecret, appCfg.BaseURL)
	var exchanger identities.Exchanger
	if rt.Google != nil {
		exchanger = rt.Google
	}
	rt.Identities = identities.NewService(db, appCfg.TokenTTL, exchanger, logger)
	rt.Accounts = accounts.New(db, rt.Identities, logger)
	rt.States = oauthstate.New(db)
	rt.Limiter = ratelimit.NewLoginLimiter(appCfg.LoginRateLimit)

	seedCtx, cancel := timeouts.WithTimeout(ctx, timeouts.Write(), logger, "seed roles")
	err := rt.Accounts.SeedRoles(seedCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}

	if appCfg.AdminEmail != "" {
		if err := ensureAdmin(ctx, rt.Accounts, appCfg.AdminEmail, appCfg.AdminPassword, logger); err != nil {
			return fmt.Errorf("ensure admin: %w", err)
		}
	}

	backends := desk.Backends{
		Roles:        roles.NewResolver(rolestore.New(db), logger),
		Employees:    records.New[models.Employee](db, collections.Employees, logger),
		Inventory:    records.New[models.InventoryItem](db, collections.Inventory, logger),
		Transactions: records.New[models.Transaction](db, collections.Transactions, logger),
		Projects:     records.New[models.Project](db, collections.Projects, logger),
		Feed: changefeed.Options{
			Logger:        logger,
			MaxInterval:   appCfg.FeedReconnectMax,
			DegradedAfter: appCfg.FeedDegradedAfter,
		},
		Logger: logger,
	}
	svc := rt.Identities
	rt.Registry, err = desk.NewRegistry(appCfg.MaxClients, backends, func(token string) desk.Provider {
		return identities.NewClient(svc, token, logger)
	})
	if err != nil {
		return err
	}

	rt.refresher = workers.NewTokenRefresher(rt.Registry, logger, appCfg.TokenRefreshInterval, appCfg.TokenRefreshWindow)
	rt.reaper = workers.NewClientReaper(rt.Registry, logger, time.Minute, appCfg.ClientIdleTimeout)
	rt.cleanup = workers.NewStateCleanup(rt.States, logger, stateCleanupInterval)
	rt.refresher.Start()
	rt.reaper.Start()
	rt.cleanup.Start()

	logger.Info("desk ready",
		zap.Int("max_clients", appCfg.MaxClients),
		zap.Bool("google_sign_in", rt.Google != nil))
	return nil
}

// ensureAdmin makes sure email has an account holding the admin role.
// An existing account keeps its password and sign-in method.
func ensureAdmin(ctx context.Context, svc *accounts.Service, email, password string, logger *zap.Logger) error {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Write(), logger, "ensure admin")
	defer cancel()

	err := svc.Assign(ctx, email, models.RoleAdmin)
	if err == nil {
		logger.Info("admin role confirmed", zap.String("email", email))
		return nil
	}
	if !errors.Is(err, accounts.ErrNoSuchUser) {
		return err
	}

	in := accounts.NewUser{
		Email:      email,
		FullName:   "Administrator",
		Password:   password,
		AuthMethod: models.AuthMethodPassword,
		Roles:      []string{models.RoleAdmin},
	}
	if password == "" {
		in.AuthMethod = models.AuthMethodGoogle
	}
	if _, err := svc.Create(ctx, in); err != nil {
		return err
	}
	logger.Info("created admin account", zap.String("email", email), zap.String("auth_method", in.AuthMethod))
	return nil
}

// stop halts the workers and closes every desk client.
func (rt *Runtime) stop() {
	if rt.refresher != nil {
		rt.refresher.Stop()
	}
	if rt.reaper != nil {
		rt.reaper.Stop()
	}
	if rt.cleanup != nil {
		rt.cleanup.Stop()
	}
	if rt.Registry != nil {
		rt.Registry.Close()
	}
	if rt.Limiter != nil {
		rt.Limiter.Close()
	}
}
