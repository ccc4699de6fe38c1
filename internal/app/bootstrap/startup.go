// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/hubsocket/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built. It applies
// timeout overrides and builds and starts the socket runtime.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if n := timeouts.ConfigureFromEnv(); n > 0 {
		t := timeouts.Current()
		logger.Info("timeout overrides applied",
			zap.Int("count", n),
			zap.Duration("ping", t.Ping),
			zap.Duration("lookup", t.Lookup),
			zap.Duration("write", t.Write),
			zap.Duration("drain", t.Drain))
	}

	deps.Runtime.build(appCfg, deps, logger)
	if err := deps.Runtime.start(ctx); err != nil {
		logger.Error("runtime start failed", zap.Error(err))
		return err
	}

	logger.Info("socket runtime started",
		zap.Bool("relay", deps.Runtime.Relay != nil),
		zap.Bool("connect_rate_limit", deps.Runtime.Limiter != nil))
	return nil
}
