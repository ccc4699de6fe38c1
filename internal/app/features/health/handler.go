package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/hubsocket/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// DBPinger is satisfied by *mongo.Client.
type DBPinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

// RelayPinger is satisfied by *relay.Relay.
type RelayPinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies needed for health checks.
type Handler struct {
	DB    DBPinger
	Relay RelayPinger // nil when the broadcast relay is disabled
	Log   *zap.Logger
}

// NewHandler constructs a health Handler. relay may be nil.
func NewHandler(db DBPinger, relay RelayPinger, logger *zap.Logger) *Handler {
	return &Handler{
		DB:    db,
		Relay: relay,
		Log:   logger,
	}
}

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Relay    string `json:"relay,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "relay":"connected" }
//
// On DB or relay failure: 503 and
//
//	{ "status":"error", "database":"disconnected", "message":"Database unavailable", "error":"…"}
//
// "relay" is omitted when the relay is disabled.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{
		Status:   "ok",
		Database: "connected",
	}

	if err := h.DB.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
	}

	if h.Relay != nil {
		resp.Relay = "connected"
		if err := h.Relay.Ping(ctx); err != nil {
			h.Log.Error("health-check: redis ping failed", zap.Error(err))
			resp.Relay = "disconnected"
			if resp.Status == "ok" {
				resp.Status = "error"
				resp.Message = "Relay unavailable"
				resp.Error = err.Error()
			}
		}
	}

	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
