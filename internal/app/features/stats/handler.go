// internal/app/features/stats/handler.go
package stats

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// PresenceCounter is satisfied by *presence.Service.
type PresenceCounter interface {
	Stats() (users, conns int)
}

// RoomCounter is satisfied by *realtime.Server.
type RoomCounter interface {
	Count() int
}

// Handler reports process-local presence counts.
type Handler struct {
	Presence  PresenceCounter
	Transport RoomCounter
	Log       *zap.Logger
}

// NewHandler creates a stats handler.
func NewHandler(p PresenceCounter, t RoomCounter, logger *zap.Logger) *Handler {
	return &Handler{Presence: p, Transport: t, Log: logger}
}

type statsResponse struct {
	OnlineUsers int `json:"online_users"`
	Connections int `json:"connections"`
	Sockets     int `json:"sockets"`
}

// ServeStats handles GET /presence/stats.
//
//	{ "online_users": 3, "connections": 5, "sockets": 5 }
//
// connections counts registry entries; sockets counts open transport
// connections. They differ only while a socket is opening or closing.
func (h *Handler) ServeStats(w http.ResponseWriter, r *http.Request) {
	users, conns := h.Presence.Stats()
	resp := statsResponse{
		OnlineUsers: users,
		Connections: conns,
		Sockets:     h.Transport.Count(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.Log.Warn("stats encode failed", zap.Error(err))
	}
}
