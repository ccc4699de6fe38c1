// internal/app/system/presence/service.go
package presence

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Global events emitted on presence transitions.
const (
	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"
)

// MaxBulkQuery caps how many ids one bulk presence query may ask about.
const MaxBulkQuery = 500

// LastSeenLayout is the ISO-8601 layout used for lastSeen timestamps.
const LastSeenLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrNotAList is returned when a bulk query's userIds is missing or not an array.
	ErrNotAList = errors.New("userIds must be an array")
	// ErrTooMany is returned when a bulk query asks about more than MaxBulkQuery ids.
	ErrTooMany = errors.New("too many userIds")
)

// Broadcaster delivers an event to every connected client. Implementations
// must not block on slow receivers.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// LastSeenRecorder accepts a last-seen timestamp for best-effort persistence.
// Implementations must return promptly and must not report failure; a lost
// write only means a stale "last active" label.
type LastSeenRecorder interface {
	RecordLastSeen(userID string, at time.Time)
}

// ClusterEdges tracks which processes hold a user online when several
// processes share one broadcast channel. The service consults it only on a
// process-local edge; a local edge that is not also a cluster edge is not
// broadcast.
type ClusterEdges interface {
	// Up reports whether this process is now the only one holding userID online.
	Up(userID string) (bool, error)
	// Down reports whether no process holds userID online any more.
	Down(userID string) (bool, error)
}

// OnlinePayload is the body of user:online.
type OnlinePayload struct {
	UserID string `json:"userId"`
}

// OfflinePayload is the body of user:offline.
type OfflinePayload struct {
	UserID   string `json:"userId"`
	LastSeen string `json:"lastSeen"`
}

// Status is one entry of a bulk presence answer.
type Status struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// Service owns the connection registry and turns connection lifecycle events
// into edge-triggered online/offline broadcasts.
type Service struct {
	reg      *Registry
	bus      Broadcaster
	lastSeen LastSeenRecorder
	cluster  ClusterEdges
	log      *zap.Logger
	now      func() time.Time

	// transitions serializes a registry edge with its broadcast so an
	// online can never overtake the offline it follows for the same user.
	transitions sync.Mutex
}

// NewService creates the presence service. It should be constructed once per
// process. lastSeen may be nil, in which case last-seen is not persisted.
func NewService(bus Broadcaster, lastSeen LastSeenRecorder, logger *zap.Logger) *Service {
	return &Service{
		reg:      NewRegistry(),
		bus:      bus,
		lastSeen: lastSeen,
		log:      logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// UseClusterEdges makes the service broadcast only cluster-wide edges. It
// must be called before the first connection is registered.
func (s *Service) UseClusterEdges(c ClusterEdges) {
	s.cluster = c
}

// OnConnect registers a live connection. The first connection of an offline
// user broadcasts user:online; further connections do not.
func (s *Service) OnConnect(userID, connID string) {
	s.transitions.Lock()
	defer s.transitions.Unlock()

	if !s.reg.AddConnection(userID, connID) {
		s.log.Debug("additional connection",
			zap.String("user_id", userID),
			zap.String("conn_id", connID),
			zap.Int("connections", s.reg.ConnectionCount(userID)))
		return
	}
	if !s.clusterEdge(userID, true) {
		s.log.Debug("user already online on another process", zap.String("user_id", userID))
		return
	}

	s.log.Debug("user online", zap.String("user_id", userID), zap.String("conn_id", connID))
	s.bus.Broadcast(EventUserOnline, OnlinePayload{UserID: userID})
}

// OnDisconnect deregisters a connection. When it was the user's last one the
// service broadcasts user:offline and then hands the timestamp to the
// last-seen recorder. Calling it again for the same pair does nothing.
// A user still online on another process produces neither.
func (s *Service) OnDisconnect(userID, connID string) {
	s.transitions.Lock()
	if !s.reg.RemoveConnection(userID, connID) {
		s.transitions.Unlock()
		return
	}
	if !s.clusterEdge(userID, false) {
		s.transitions.Unlock()
		s.log.Debug("user still online on another process", zap.String("user_id", userID))
		return
	}

	at := s.now().UTC()
	s.bus.Broadcast(EventUserOffline, OfflinePayload{
		UserID:   userID,
		LastSeen: at.Format(LastSeenLayout),
	})
	s.transitions.Unlock()

	s.log.Debug("user offline", zap.String("user_id", userID), zap.String("conn_id", connID))
	s.recordLastSeenBestEffort(userID, at)
}

// clusterEdge runs with s.transitions held. If the shared state cannot be
// reached the local edge is broadcast as is.
func (s *Service) clusterEdge(userID string, up bool) bool {
	if s.cluster == nil {
		return true
	}
	var (
		edge bool
		err  error
	)
	if up {
		edge, err = s.cluster.Up(userID)
	} else {
		edge, err = s.cluster.Down(userID)
	}
	if err != nil {
		s.log.Warn("cluster presence update failed, using local edge",
			zap.String("user_id", userID),
			zap.Bool("up", up),
			zap.Error(err))
		return true
	}
	return edge
}

// recordLastSeenBestEffort never fails the caller: the offline broadcast has
// already gone out and presence state is already correct.
func (s *Service) recordLastSeenBestEffort(userID string, at time.Time) {
	if s.lastSeen == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("last-seen recorder panicked",
				zap.String("user_id", userID),
				zap.Any("panic", r))
		}
	}()
	s.lastSeen.RecordLastSeen(userID, at)
}

// IsOnline reports whether userID has any live connection.
func (s *Service) IsOnline(userID string) bool {
	return s.reg.IsOnline(userID)
}

// QueryBulk resolves each id independently, one entry per input id, in input order.
func (s *Service) QueryBulk(userIDs []string) []Status {
	out := make([]Status, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, Status{UserID: id, Online: s.reg.IsOnline(id)})
	}
	return out
}

// Snapshot returns every online user mapped to true, ready for a client to
// merge into its local presence map.
func (s *Service) Snapshot() map[string]bool {
	ids := s.reg.OnlineUserIDs()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// OnlineAmong filters ids down to those currently online, keeping order.
func (s *Service) OnlineAmong(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if s.reg.IsOnline(id) {
			out = append(out, id)
		}
	}
	return out
}

// Stats returns online user and connection counts.
func (s *Service) Stats() (users, conns int) {
	return s.reg.Counts()
}

// DecodeUserIDs extracts the userIds array from a presence:whois payload.
// Each element is normalized to a string: strings are unquoted, anything else
// keeps its JSON literal form (so 42 becomes "42").
//
// An empty array is not an error even though it asks about nobody: it yields
// no ids and the whois ack is success with []. Only a missing or non-array
// userIds is ErrNotAList.
func DecodeUserIDs(data json.RawMessage) ([]string, error) {
	var body struct {
		UserIDs json.RawMessage `json:"userIds"`
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNotAList
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, ErrNotAList
	}

	raw := bytes.TrimSpace(body.UserIDs)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, ErrNotAList
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, ErrNotAList
	}
	if len(elems) > MaxBulkQuery {
		return nil, ErrTooMany
	}

	ids := make([]string, 0, len(elems))
	for _, e := range elems {
		e = bytes.TrimSpace(e)
		var str string
		if len(e) > 0 && e[0] == '"' && json.Unmarshal(e, &str) == nil {
			ids = append(ids, str)
			continue
		}
		ids = append(ids, string(e))
	}
	return ids, nil
}
