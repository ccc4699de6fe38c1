// internal/app/features/socket/routes.go
package socket

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns the router for the websocket endpoint, mounted at /socket.
// limit, when non-nil, throttles upgrade attempts before authentication.
func Routes(h *Handler, limit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	if limit != nil {
		r.Use(limit)
	}
	r.Get("/", h.ServeSocket)
	return r
}
