// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like:
//   - HTTP/HTTPS ports and TLS configuration
//   - Logging level and format
//   - CORS settings
//   - Request body size limits
//
// AppConfig is where the socket service keeps its own settings: the Mongo
// system of record, the cookie and token secrets it verifies, the optional
// Redis relay, and transport tuning.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI      string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase string // Database name holding hubs and users

	// Session verification (must match the platform web app)
	SessionKey    string // Key the web app signs session cookies with
	SessionName   string // Session cookie name
	SessionDomain string // Cookie domain (blank means current host)

	// Bearer tokens
	JWTSecret string // HS256 secret for bearer tokens (blank disables them)

	// Broadcast relay (blank RedisURL runs single-process)
	RedisURL     string // e.g., redis://localhost:6379/0
	RedisChannel string // pub/sub channel for relayed broadcasts

	// Websocket transport
	AllowedOrigins  []string      // browser origins allowed to open a socket
	SendBuffer      int           // queued outbound frames per connection
	PingInterval    time.Duration // server ping cadence
	PongWait        time.Duration // read deadline extended on every pong
	MaxMessageBytes int64         // largest inbound frame
	ConnectRate     int           // socket upgrades per client IP per minute (0 disables)

	// Last-seen persistence
	LastSeenQueue int // pending last-seen writes before new ones are dropped
}
