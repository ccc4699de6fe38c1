// internal/app/bootstrap/runtime.go
package bootstrap

import (
	"context"
	"time"

	hubstore "github.com/dalemusser/hubsocket/internal/app/store/hubs"
	userstore "github.com/dalemusser/hubsocket/internal/app/store/users"
	"github.com/dalemusser/hubsocket/internal/app/system/hubgate"
	"github.com/dalemusser/hubsocket/internal/app/system/presence"
	"github.com/dalemusser/hubsocket/internal/app/system/ratelimit"
	"github.com/dalemusser/hubsocket/internal/app/system/realtime"
	"github.com/dalemusser/hubsocket/internal/app/system/relay"
	"github.com/dalemusser/hubsocket/internal/app/system/timeouts"
	"github.com/dalemusser/hubsocket/internal/app/system/workers"
	"go.uber.org/zap"
)

// Runtime holds the long-lived components of the socket service. There is
// exactly one per process.
type Runtime struct {
	Transport *realtime.Server
	Presence  *presence.Service
	Gate      *hubgate.Gate
	LastSeen  *workers.LastSeenWriter
	Relay     *relay.Relay       // nil when the relay is disabled
	Limiter   *ratelimit.Limiter // nil when connect_rate is 0
}

// build wires the runtime components. Construction order matters: the
// presence service broadcasts through the relay (or directly through the
// transport), and the gate reads presence.
func (rt *Runtime) build(appCfg AppConfig, deps DBDeps, logger *zap.Logger) {
	rt.Transport = realtime.NewServer(realtime.Config{
		SendBuffer:      appCfg.SendBuffer,
		PingInterval:    appCfg.PingInterval,
		PongWait:        appCfg.PongWait,
		MaxMessageBytes: appCfg.MaxMessageBytes,
	}, logger.Named("realtime"))

	var bus presence.Broadcaster = rt.Transport
	if deps.Redis != nil {
		rt.Relay = relay.New(deps.Redis, appCfg.RedisChannel, rt.Transport, logger.Named("relay"))
		bus = rt.Relay
	}

	rt.LastSeen = workers.NewLastSeenWriter(userstore.New(deps.MongoDatabase), logger.Named("lastseen"), appCfg.LastSeenQueue)
	rt.Presence = presence.NewService(bus, rt.LastSeen, logger.Named("presence"))
	if rt.Relay != nil {
		rt.Presence.UseClusterEdges(rt.Relay)
	}
	rt.Gate = hubgate.New(hubstore.New(deps.MongoDatabase), rt.Presence, logger.Named("hubgate"))

	if appCfg.ConnectRate > 0 {
		rt.Limiter = ratelimit.New(appCfg.ConnectRate, time.Minute)
	}
}

// start launches the background workers.
func (rt *Runtime) start(ctx context.Context) error {
	rt.LastSeen.Start()
	if rt.Relay != nil {
		if err := rt.Relay.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// stop tears the runtime down in dependency order: connections first (each
// close runs the normal disconnect path and queues a last-seen write), then
// the relay, then the last-seen writer drains.
func (rt *Runtime) stop(ctx context.Context, logger *zap.Logger) {
	if rt.Transport != nil {
		if err := rt.Transport.Shutdown(ctx); err != nil {
			logger.Warn("websocket shutdown incomplete", zap.Error(err))
		}
	}
	if rt.Relay != nil {
		rt.Relay.Stop()
	}
	if rt.LastSeen != nil {
		drainCtx, cancel := context.WithTimeout(ctx, timeouts.Drain())
		defer cancel()
		if err := rt.LastSeen.Stop(drainCtx); err != nil {
			logger.Warn("last-seen writer did not drain", zap.Error(err))
		}
	}
	if rt.Limiter != nil {
		rt.Limiter.Stop()
	}
}
