// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dalemusser/hubsocket/internal/app/system/auth"
	"github.com/dalemusser/hubsocket/internal/app/system/realtime"
	"github.com/dalemusser/hubsocket/internal/app/system/relay"
	"github.com/dalemusser/hubsocket/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// devSessionKey is the default session key. It is refused in production.
const devSessionKey = "dev-only-change-me-please-0123456789ABCDEF"

// appConfigKeys defines the configuration keys for the socket service.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: HUBSOCKET_MONGO_URI, HUBSOCKET_REDIS_URL, etc.
//   - Command-line flags: --mongo_uri, --redis_url, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "hubs", Desc: "MongoDB database name"},
	{Name: "session_key", Default: devSessionKey, Desc: "Session signing key shared with the web app"},
	{Name: "session_name", Default: auth.DefaultSessionName, Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "jwt_secret", Default: "", Desc: "HS256 secret for bearer tokens (blank disables bearer auth)"},

	// Broadcast relay
	{Name: "redis_url", Default: "", Desc: "Redis URL for cross-process broadcast relay (blank disables)"},
	{Name: "redis_channel", Default: relay.DefaultChannel, Desc: "Redis pub/sub channel for relayed broadcasts"},

	// Websocket transport
	{Name: "allowed_origins", Default: "", Desc: "Comma-separated browser origins allowed to connect"},
	{Name: "send_buffer", Default: realtime.DefaultSendBuffer, Desc: "Outbound frames queued per connection before it is dropped"},
	{Name: "ping_interval", Default: realtime.DefaultPingInterval.String(), Desc: "Server ping interval (e.g., 25s)"},
	{Name: "pong_wait", Default: realtime.DefaultPongWait.String(), Desc: "Max silence from a client before disconnect (e.g., 60s)"},
	{Name: "max_message_bytes", Default: realtime.DefaultMaxMessageBytes, Desc: "Largest accepted inbound frame in bytes"},
	{Name: "connect_rate", Default: 60, Desc: "Socket upgrades allowed per client IP per minute (0 disables)"},

	// Last-seen persistence
	{Name: "lastseen_queue", Default: workers.DefaultLastSeenQueue, Desc: "Pending last-seen writes before new ones are dropped"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, HUBSOCKET_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "HUBSOCKET", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:      appValues.String("mongo_uri"),
		MongoDatabase: appValues.String("mongo_database"),
		SessionKey:    appValues.String("session_key"),
		SessionName:   appValues.String("session_name"),
		SessionDomain: appValues.String("session_domain"),
		JWTSecret:     appValues.String("jwt_secret"),

		RedisURL:     appValues.String("redis_url"),
		RedisChannel: appValues.String("redis_channel"),

		AllowedOrigins:  splitList(appValues.String("allowed_origins")),
		SendBuffer:      appValues.Int("send_buffer"),
		PingInterval:    appValues.Duration("ping_interval", realtime.DefaultPingInterval),
		PongWait:        appValues.Duration("pong_wait", realtime.DefaultPongWait),
		MaxMessageBytes: int64(appValues.Int("max_message_bytes")),
		ConnectRate:     appValues.Int("connect_rate"),

		LastSeenQueue: appValues.Int("lastseen_queue"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// The MongoDB and Redis URLs are checked here so a typo fails fast instead
// of surfacing as a connect timeout.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if strings.TrimSpace(appCfg.MongoDatabase) == "" {
		return errors.New("mongo_database must not be empty")
	}

	if appCfg.RedisURL != "" {
		if _, err := redis.ParseURL(appCfg.RedisURL); err != nil {
			logger.Error("invalid Redis URL", zap.Error(err))
			return fmt.Errorf("invalid Redis URL: %w", err)
		}
	}

	if appCfg.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", appCfg.SendBuffer)
	}
	if appCfg.MaxMessageBytes <= 0 {
		return fmt.Errorf("max_message_bytes must be positive, got %d", appCfg.MaxMessageBytes)
	}
	if appCfg.PongWait <= 0 || appCfg.PingInterval <= 0 {
		return errors.New("ping_interval and pong_wait must be positive")
	}
	if appCfg.PingInterval >= appCfg.PongWait {
		return fmt.Errorf("ping_interval (%s) must be shorter than pong_wait (%s)", appCfg.PingInterval, appCfg.PongWait)
	}
	if appCfg.ConnectRate < 0 {
		return fmt.Errorf("connect_rate must not be negative, got %d", appCfg.ConnectRate)
	}

	if coreCfg != nil && coreCfg.Env == "prod" {
		if appCfg.SessionKey == devSessionKey {
			return errors.New("session_key must be set in production")
		}
		if appCfg.JWTSecret != "" && len(appCfg.JWTSecret) < 32 {
			logger.Warn("jwt_secret is short; 32+ chars recommended", zap.Int("length", len(appCfg.JWTSecret)))
		}
	}

	return nil
}

// splitList parses a comma-separated config value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
