// internal/app/bootstrap/routes.go
package bootstrap

import (
	"errors"
	"net/http"

	healthfeature "github.com/dalemusser/hubsocket/internal/app/features/health"
	socketfeature "github.com/dalemusser/hubsocket/internal/app/features/socket"
	statsfeature "github.com/dalemusser/hubsocket/internal/app/features/stats"
	"github.com/dalemusser/hubsocket/internal/app/system/auth"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// Startup have completed, so the socket runtime already exists in
// deps.Runtime.
//
// Routes:
//   - /health          load balancer probe (Mongo, plus Redis when relayed)
//   - /socket          websocket endpoint
//   - /presence/stats  signed-in presence counts
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	rt := deps.Runtime
	if rt == nil || rt.Transport == nil {
		return nil, errors.New("socket runtime not started")
	}

	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, secure, appCfg.JWTSecret, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	r := chi.NewRouter()

	// Health check endpoint for load balancers and orchestrators
	var relayPing healthfeature.RelayPinger
	if rt.Relay != nil {
		relayPing = rt.Relay
	}
	healthHandler := healthfeature.NewHandler(deps.MongoClient, relayPing, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	// Websocket endpoint
	var limit func(http.Handler) http.Handler
	if rt.Limiter != nil {
		limit = rt.Limiter.Middleware
	}
	socketHandler := socketfeature.NewHandler(rt.Presence, rt.Gate, rt.Transport, sessionMgr, appCfg.AllowedOrigins, logger.Named("socket"))
	r.Mount("/socket", socketfeature.Routes(socketHandler, limit))

	// Presence counts
	statsHandler := statsfeature.NewHandler(rt.Presence, rt.Transport, logger)
	r.Mount("/presence", statsfeature.Routes(statsHandler, sessionMgr))

	return r, nil
}
