// internal/app/features/socket/handler.go
package socket

// Terminology: Identifiers
//   - UserID / userID / user_id: hex ObjectID of the authenticated user
//   - ConnID / connID / conn_id: per-connection UUID assigned by the transport
//   - HubID / hubID / hub_id: hex ObjectID of a hub document

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/dalemusser/hubsocket/internal/app/system/auth"
	"github.com/dalemusser/hubsocket/internal/app/system/hubgate"
	"github.com/dalemusser/hubsocket/internal/app/system/presence"
	"github.com/dalemusser/hubsocket/internal/app/system/realtime"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler serves the websocket endpoint and dispatches client events.
type Handler struct {
	Presence   *presence.Service
	Gate       *hubgate.Gate
	Transport  *realtime.Server
	SessionMgr *auth.SessionManager
	Log        *zap.Logger

	upgrader websocket.Upgrader
	origins  map[string]struct{}
}

// NewHandler creates the socket handler. allowedOrigins lists the browser
// origins (scheme://host[:port]) permitted to open a socket; an empty list
// only admits same-host requests and clients that send no Origin.
func NewHandler(p *presence.Service, g *hubgate.Gate, t *realtime.Server, sm *auth.SessionManager, allowedOrigins []string, logger *zap.Logger) *Handler {
	h := &Handler{
		Presence:   p,
		Gate:       g,
		Transport:  t,
		SessionMgr: sm,
		Log:        logger,
		origins:    make(map[string]struct{}, len(allowedOrigins)),
	}
	for _, o := range allowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			h.origins[strings.ToLower(o)] = struct{}{}
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeSocket handles GET /socket. The request must authenticate before it
// is upgraded; otherwise it is answered with 401 and no connection exists.
func (h *Handler) ServeSocket(w http.ResponseWriter, r *http.Request) {
	user, err := h.SessionMgr.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.Log.Debug("websocket upgrade failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}

	err = h.Transport.Serve(ws, user.ID, realtime.Hooks{
		OnOpen:  h.onOpen,
		OnFrame: h.dispatch,
		OnClose: h.onClose,
	})
	if errors.Is(err, realtime.ErrClosed) {
		h.Log.Debug("socket refused during shutdown", zap.String("user_id", user.ID))
	}
}

func (h *Handler) onOpen(c *realtime.Conn) {
	c.Logger().Debug("socket connected")
	h.Presence.OnConnect(c.UserID(), c.ID())
}

func (h *Handler) onClose(c *realtime.Conn) {
	c.Logger().Debug("socket disconnected")
	h.Presence.OnDisconnect(c.UserID(), c.ID())
}

// dispatch routes one client frame. Nothing a handler does, including a
// panic, may end the connection.
func (h *Handler) dispatch(c *realtime.Conn, f realtime.Frame) {
	log := c.Logger().With(zap.String("event", f.Event))
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("socket event handler panicked", zap.Any("panic", rec), zap.Stack("stack"))
			h.ack(c, f, failure(msgInternalError))
		}
	}()

	switch f.Event {
	case EventPresenceWhois:
		h.presenceWhois(c, f)
	case EventPresenceHydrate:
		h.presenceHydrate(c, f)
	case EventHubJoin:
		h.hubJoin(c, f, log)
	case EventHubLeave:
		h.hubLeave(c, f)
	case EventHubPresence:
		h.hubPresence(c, f, log)
	default:
		log.Debug("unknown socket event")
		h.ack(c, f, failure(msgUnknownEvent))
	}
}

func (h *Handler) presenceWhois(c *realtime.Conn, f realtime.Frame) {
	ids, err := presence.DecodeUserIDs(f.Data)
	switch {
	case errors.Is(err, presence.ErrTooMany):
		h.ack(c, f, failure(msgTooManyUserIDs))
		return
	case err != nil:
		h.ack(c, f, failure(msgUserIDsNotAList))
		return
	}
	h.ack(c, f, ok(h.Presence.QueryBulk(ids)))
}

func (h *Handler) presenceHydrate(c *realtime.Conn, f realtime.Frame) {
	h.ack(c, f, ok(hydrateData{Online: h.Presence.Snapshot()}))
}

func (h *Handler) hubJoin(c *realtime.Conn, f realtime.Frame, log *zap.Logger) {
	hubID, okID := decodeHubID(f.Data)
	if !okID {
		h.ack(c, f, failure(msgInvalidHubID))
		return
	}

	err := h.Gate.Join(c.Context(), c.UserID(), c, hubID)
	switch {
	case err == nil:
		log.Debug("joined hub room", zap.String("hub_id", hubID))
		h.ack(c, f, ok(nil))
	case errors.Is(err, hubgate.ErrInvalidArgument):
		h.ack(c, f, failure(msgInvalidHubID))
	case errors.Is(err, hubgate.ErrForbidden):
		log.Debug("hub join refused", zap.String("hub_id", hubID))
		h.ack(c, f, failure(msgForbidden))
	default:
		log.Warn("hub join lookup failed", zap.String("hub_id", hubID), zap.Error(err))
		h.ack(c, f, failure(msgLookupFailed))
	}
}

// hubLeave never acks; a bad id is ignored.
func (h *Handler) hubLeave(c *realtime.Conn, f realtime.Frame) {
	hubID, okID := decodeHubID(f.Data)
	if !okID {
		return
	}
	h.Gate.Leave(c, hubID)
}

// hubPresence acks only on success. Failures are logged and the client's
// callback is left unanswered.
func (h *Handler) hubPresence(c *realtime.Conn, f realtime.Frame, log *zap.Logger) {
	hubID, okID := decodeHubID(f.Data)
	if !okID {
		return
	}

	online, err := h.Gate.WhoIsOnline(c.Context(), c.UserID(), hubID)
	if err != nil {
		log.Warn("hub presence query failed", zap.String("hub_id", hubID), zap.Error(err))
		return
	}

	members := make([]hubMember, 0, len(online))
	for _, id := range online {
		members = append(members, hubMember{UserID: id})
	}
	h.ack(c, f, ok(members))
}

func (h *Handler) ack(c *realtime.Conn, f realtime.Frame, resp ackResponse) {
	if err := c.Ack(f, resp); err != nil {
		c.Logger().Error("ack encode failed", zap.String("event", f.Event), zap.Error(err))
	}
}

// decodeHubID extracts {hubId} from a payload. A missing or non-string
// hubId is reported as not ok.
func decodeHubID(data json.RawMessage) (string, bool) {
	var p hubPayload
	if len(data) == 0 || json.Unmarshal(data, &p) != nil || p.HubID == "" {
		return "", false
	}
	return p.HubID, true
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, allowed := h.origins[strings.ToLower(origin)]; allowed {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
