// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	adminusersfeature "github.com/dalemusser/opsdesk/internal/app/features/adminusers"
	authgooglefeature "github.com/dalemusser/opsdesk/internal/app/features/authgoogle"
	errorsfeature "github.com/dalemusser/opsdesk/internal/app/features/errors"
	healthfeature "github.com/dalemusser/opsdesk/internal/app/features/health"
	heartbeatfeature "github.com/dalemusser/opsdesk/internal/app/features/heartbeat"
	homefeature "github.com/dalemusser/opsdesk/internal/app/features/home"
	loginfeature "github.com/dalemusser/opsdesk/internal/app/features/login"
	logoutfeature "github.com/dalemusser/opsdesk/internal/app/features/logout"
	signupfeature "github.com/dalemusser/opsdesk/internal/app/features/signup"
	tablesfeature "github.com/dalemusser/opsdesk/internal/app/features/tables"
	userinfofeature "github.com/dalemusser/opsdesk/internal/app/features/userinfo"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler for the desk.
//
// WAFFLE calls this after configuration, the DB connection, schema setup
// and Startup have completed, so deps.Runtime is populated.
//
// Every request passes through LoadClient, which resolves the cookie to a
// desk client (creating an anonymous one when needed). Authorization is
// applied per route by the feature routers.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	rt := deps.Runtime

	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(sessionMgr.LoadClient(rt.Registry))
	r.NotFound(errorsfeature.NotFound)
	r.MethodNotAllowed(errorsfeature.MethodNotAllowed)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, rt.Registry, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	homeHandler := homefeature.NewHandler(logger)
	r.Mount("/", homefeature.Routes(homeHandler))

	// Authentication
	// A nil *Google must reach the handler as a nil interface.
	var consent authgooglefeature.Consent
	if rt.Google != nil {
		consent = rt.Google
	}
	googleHandler := authgooglefeature.NewHandler(sessionMgr, rt.States, consent, logger)

	loginHandler := loginfeature.NewHandler(sessionMgr, rt.Limiter, rt.Google != nil, logger)
	r.Mount("/login", loginfeature.Routes(loginHandler, map[string]http.Handler{
		"google": authgooglefeature.Routes(googleHandler),
	}))

	signupHandler := signupfeature.NewHandler(sessionMgr, rt.Accounts, rt.Limiter, appCfg.SignupEnabled, logger)
	r.Mount("/signup", signupfeature.Routes(signupHandler))

	logoutHandler := logoutfeature.NewHandler(sessionMgr, logger)
	r.Mount("/logout", logoutfeature.Routes(logoutHandler))

	heartbeatHandler := heartbeatfeature.NewHandler(sessionMgr, appCfg.TokenRefreshWindow, logger)
	r.Mount("/heartbeat", heartbeatfeature.Routes(heartbeatHandler))

	// Session snapshot and its live stream
	sessionHandler := userinfofeature.NewHandler(logger)
	r.Mount("/session", userinfofeature.Routes(sessionHandler))

	// Record collections
	tablesHandler := tablesfeature.NewHandler(logger)
	r.Mount("/c", tablesfeature.Routes(tablesHandler))

	// User and role administration
	adminHandler := adminusersfeature.NewHandler(rt.Accounts, logger)
	r.Mount("/admin", adminusersfeature.Routes(adminHandler))

	return r, nil
}
