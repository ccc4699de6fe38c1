// internal/app/system/realtime/conn.go
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn is one live websocket connection. Each Conn has a read pump (the
// goroutine running Server.Serve) and a write pump; all writes go through the
// send queue so only the write pump touches the socket's data frames.
type Conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	srv    *Server
	log    *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// rooms is guarded by srv.mu.
	rooms map[string]struct{}
}

func newConn(srv *Server, ws *websocket.Conn, userID string) *Conn {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		userID: userID,
		ws:     ws,
		srv:    srv,
		log:    srv.log.With(zap.String("conn_id", id), zap.String("user_id", userID)),
		send:   make(chan []byte, srv.cfg.SendBuffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated user the connection belongs to.
func (c *Conn) UserID() string { return c.userID }

// Logger returns a logger carrying the connection's conn_id and user_id.
func (c *Conn) Logger() *zap.Logger { return c.log }

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Context is canceled when the connection closes. Work done on behalf of the
// connection should use it so it stops once nobody is left to answer.
func (c *Conn) Context() context.Context { return c.ctx }

// Join subscribes the connection to room. Joining twice is harmless.
func (c *Conn) Join(room string) { c.srv.join(c, room) }

// Leave unsubscribes the connection from room. Leaving a room the
// connection is not in is harmless.
func (c *Conn) Leave(room string) { c.srv.leave(c, room) }

// Rooms returns the rooms the connection is subscribed to.
func (c *Conn) Rooms() []string { return c.srv.roomsOf(c) }

// Emit pushes an event to this connection only.
func (c *Conn) Emit(event string, payload any) error {
	msg, err := encode(event, nil, payload)
	if err != nil {
		return err
	}
	c.enqueue(msg)
	return nil
}

// Ack replies to a client frame. It does nothing when the client did not ask
// for an acknowledgement.
func (c *Conn) Ack(f Frame, payload any) error {
	if f.Ack == nil {
		return nil
	}
	msg, err := encode(AckEvent, f.Ack, payload)
	if err != nil {
		return err
	}
	c.enqueue(msg)
	return nil
}

// Close closes the connection with a normal close status. The read pump then
// exits and the server runs the close hook.
func (c *Conn) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		deadline := time.Now().Add(c.srv.cfg.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// enqueue never blocks. A full queue means the client is not keeping up, and
// it is disconnected rather than allowed to stall the sender.
func (c *Conn) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.log.Warn("send buffer full, closing slow consumer", zap.Int("buffer", cap(c.send)))
		go c.closeWith(websocket.CloseTryAgainLater, "slow consumer")
	}
}

func (c *Conn) readPump(onFrame func(*Conn, Frame)) {
	cfg := c.srv.cfg
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				c.log.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			sample := data
			if len(sample) > 128 {
				sample = sample[:128]
			}
			c.log.Debug("ignoring malformed frame", zap.ByteString("sample", sample), zap.Error(err))
			continue
		}

		if onFrame != nil {
			c.srv.invoke(c, "frame:"+f.Event, func() { onFrame(c, f) })
		}
	}
}

func (c *Conn) writePump() {
	cfg := c.srv.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("websocket write failed", zap.Error(err))
				c.closeWith(websocket.CloseGoingAway, "")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				c.log.Debug("websocket ping failed", zap.Error(err))
				c.closeWith(websocket.CloseGoingAway, "")
				return
			}
		case <-c.done:
			return
		}
	}
}
