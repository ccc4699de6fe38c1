// internal/app/system/realtime/server.go
// Package realtime hosts websocket connections: per-connection read and write
// pumps, named rooms, process-wide broadcast, and acknowledgement replies.
//
// Frames are JSON objects {"event", "data", "ack"}. The server pushes
// {"event", "data"} and answers an acked frame with {"event":"ack","ack",
// "data"}.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClosed is returned by Serve once Shutdown has begun.
var ErrClosed = errors.New("realtime: server closed")

// Hooks are the callbacks a Serve caller supplies. All of them run on the
// connection's read goroutine, so frames from one connection are handled
// strictly in arrival order and OnClose runs after the last OnFrame.
type Hooks struct {
	OnOpen  func(c *Conn)
	OnFrame func(c *Conn, f Frame)
	OnClose func(c *Conn)
}

// Server tracks live connections and their room subscriptions.
type Server struct {
	cfg Config
	log *zap.Logger

	mu      sync.RWMutex
	conns   map[*Conn]struct{}
	rooms   map[string]map[*Conn]struct{}
	closing bool

	wg sync.WaitGroup
}

// NewServer creates a Server. Zero Config fields take their defaults.
func NewServer(cfg Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:   cfg.withDefaults(),
		log:   logger,
		conns: make(map[*Conn]struct{}),
		rooms: make(map[string]map[*Conn]struct{}),
	}
}

// Serve hosts ws for userID until the connection closes. It blocks, and it
// must be called from the goroutine that upgraded the request.
func (s *Server) Serve(ws *websocket.Conn, userID string, h Hooks) error {
	c := newConn(s, ws, userID)
	if !s.register(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return ErrClosed
	}
	defer s.wg.Done()

	go c.writePump()

	if h.OnOpen != nil {
		s.invoke(c, "open", func() { h.OnOpen(c) })
	}

	c.readPump(h.OnFrame)

	c.closeWith(websocket.CloseNormalClosure, "")
	s.unregister(c)

	if h.OnClose != nil {
		s.invoke(c, "close", func() { h.OnClose(c) })
	}
	return nil
}

// Broadcast pushes an event to every live connection without waiting on any
// of them.
func (s *Server) Broadcast(event string, payload any) {
	msg, err := encode(event, nil, payload)
	if err != nil {
		s.log.Error("broadcast encode failed", zap.String("event", event), zap.Error(err))
		return
	}

	s.mu.RLock()
	targets := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// ToRoom pushes an event to every connection subscribed to room.
func (s *Server) ToRoom(room, event string, payload any) {
	msg, err := encode(event, nil, payload)
	if err != nil {
		s.log.Error("room emit encode failed", zap.String("room", room), zap.String("event", event), zap.Error(err))
		return
	}

	s.mu.RLock()
	members := s.rooms[room]
	targets := make([]*Conn, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// Count returns the number of live connections.
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// RoomSize returns how many connections are subscribed to room.
func (s *Server) RoomSize(room string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}

// Shutdown refuses new connections, closes every live one, and waits until
// each has run its close hook or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	targets := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	s.log.Info("closing websocket connections", zap.Int("count", len(targets)))
	for _, c := range targets {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) register(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) unregister(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
	for room := range c.rooms {
		s.removeFromRoom(c, room)
	}
}

func (s *Server) join(c *Conn, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, live := s.conns[c]; !live {
		return
	}
	members, ok := s.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		s.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (s *Server) leave(c *Conn, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFromRoom(c, room)
}

// removeFromRoom requires s.mu held for writing.
func (s *Server) removeFromRoom(c *Conn, room string) {
	delete(c.rooms, room)
	members, ok := s.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(s.rooms, room)
	}
}

func (s *Server) roomsOf(c *Conn) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

// invoke runs a hook and contains any panic to the one callback.
func (s *Server) invoke(c *Conn, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("websocket hook panicked",
				zap.String("hook", what),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	start := time.Now()
	fn()
	if d := time.Since(start); d > s.cfg.WriteWait {
		c.log.Warn("slow websocket hook", zap.String("hook", what), zap.Duration("took", d))
	}
}
