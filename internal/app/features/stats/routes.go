// internal/app/features/stats/routes.go
package stats

import (
	"github.com/dalemusser/hubsocket/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router for stats endpoints, mounted at /presence.
func Routes(h *Handler, sm *auth.SessionManager) chi.Router {
	r := chi.NewRouter()

	// Require user to be signed in
	r.Use(sm.LoadSessionUser)
	r.Use(sm.RequireSignedIn)

	r.Get("/stats", h.ServeStats)

	return r
}
