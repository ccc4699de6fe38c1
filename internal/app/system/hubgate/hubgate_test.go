package hubgate_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/dalemusser/hubsocket/internal/app/system/hubgate"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type fakeHub struct {
	members []primitive.ObjectID
	removed bool
}

type fakeStore struct {
	mu      sync.Mutex
	hubs    map[primitive.ObjectID]*fakeHub
	err     error
	lookups int
}

func newFakeStore() *fakeStore {
	return &fakeStore{hubs: make(map[primitive.ObjectID]*fakeHub)}
}

func (s *fakeStore) FindActiveHubWithMember(ctx context.Context, hubID, userID primitive.ObjectID) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return primitive.NilObjectID, s.err
	}
	h, ok := s.hubs[hubID]
	if !ok || h.removed {
		return primitive.NilObjectID, mongo.ErrNoDocuments
	}
	for _, m := range h.members {
		if m == userID {
			return hubID, nil
		}
	}
	return primitive.NilObjectID, mongo.ErrNoDocuments
}

func (s *fakeStore) GetMembers(ctx context.Context, hubID primitive.ObjectID) ([]primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	h, ok := s.hubs[hubID]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return h.members, nil
}

type fakePresence map[string]bool

func (p fakePresence) OnlineAmong(ids []string) []string {
	out := []string{}
	for _, id := range ids {
		if p[id] {
			out = append(out, id)
		}
	}
	return out
}

type fakeConn struct {
	rooms map[string]bool
}

func newFakeConn() *fakeConn { return &fakeConn{rooms: make(map[string]bool)} }

func (c *fakeConn) Join(room string)  { c.rooms[room] = true }
func (c *fakeConn) Leave(room string) { delete(c.rooms, room) }

func TestGate_JoinMember(t *testing.T) {
	store := newFakeStore()
	user := primitive.NewObjectID()
	hub := primitive.NewObjectID()
	store.hubs[hub] = &fakeHub{members: []primitive.ObjectID{user}}

	g := hubgate.New(store, fakePresence{}, zap.NewNop())
	conn := newFakeConn()

	if err := g.Join(context.Background(), user.Hex(), conn, hub.Hex()); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if !conn.rooms["hub:"+hub.Hex()] {
		t.Errorf("conn not subscribed to hub room, rooms=%v", conn.rooms)
	}
}

func TestGate_JoinInvalidIDSkipsLookup(t *testing.T) {
	store := newFakeStore()
	g := hubgate.New(store, fakePresence{}, zap.NewNop())
	conn := newFakeConn()

	for _, id := range []string{"not-a-valid-id", "", "123", "zzzzzzzzzzzzzzzzzzzzzzzz"} {
		err := g.Join(context.Background(), primitive.NewObjectID().Hex(), conn, id)
		if !errors.Is(err, hubgate.ErrInvalidArgument) {
			t.Errorf("Join(%q) error = %v, want ErrInvalidArgument", id, err)
		}
	}
	if store.lookups != 0 {
		t.Errorf("lookups = %d, want 0", store.lookups)
	}
	if len(conn.rooms) != 0 {
		t.Errorf("conn joined rooms: %v", conn.rooms)
	}
}

func TestGate_JoinForbidden(t *testing.T) {
	store := newFakeStore()
	member := primitive.NewObjectID()
	outsider := primitive.NewObjectID()
	active := primitive.NewObjectID()
	removed := primitive.NewObjectID()
	store.hubs[active] = &fakeHub{members: []primitive.ObjectID{member}}
	store.hubs[removed] = &fakeHub{members: []primitive.ObjectID{member}, removed: true}

	g := hubgate.New(store, fakePresence{}, zap.NewNop())

	cases := []struct {
		name string
		user string
		hub  string
	}{
		{"not a member", outsider.Hex(), active.Hex()},
		{"removed hub", member.Hex(), removed.Hex()},
		{"missing hub", member.Hex(), primitive.NewObjectID().Hex()},
		{"non-ObjectID user", "user-a", active.Hex()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := newFakeConn()
			err := g.Join(context.Background(), tc.user, conn, tc.hub)
			if !errors.Is(err, hubgate.ErrForbidden) {
				t.Fatalf("error = %v, want ErrForbidden", err)
			}
			if len(conn.rooms) != 0 {
				t.Errorf("conn joined rooms: %v", conn.rooms)
			}
		})
	}
}

func TestGate_JoinStoreFailureIsUnavailable(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection reset")
	g := hubgate.New(store, fakePresence{}, zap.NewNop())
	conn := newFakeConn()

	err := g.Join(context.Background(), primitive.NewObjectID().Hex(), conn, primitive.NewObjectID().Hex())
	if !errors.Is(err, hubgate.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if errors.Is(err, hubgate.ErrForbidden) {
		t.Error("store failure must not read as forbidden")
	}
	if len(conn.rooms) != 0 {
		t.Errorf("conn joined rooms: %v", conn.rooms)
	}
}

func TestGate_MembershipIsReadEveryJoin(t *testing.T) {
	store := newFakeStore()
	user := primitive.NewObjectID()
	hub := primitive.NewObjectID()
	store.hubs[hub] = &fakeHub{members: []primitive.ObjectID{user}}
	g := hubgate.New(store, fakePresence{}, zap.NewNop())

	if err := g.Join(context.Background(), user.Hex(), newFakeConn(), hub.Hex()); err != nil {
		t.Fatalf("first Join failed: %v", err)
	}

	store.mu.Lock()
	store.hubs[hub].members = nil
	store.mu.Unlock()

	err := g.Join(context.Background(), user.Hex(), newFakeConn(), hub.Hex())
	if !errors.Is(err, hubgate.ErrForbidden) {
		t.Fatalf("Join after removal error = %v, want ErrForbidden", err)
	}
}

func TestGate_Leave(t *testing.T) {
	g := hubgate.New(newFakeStore(), fakePresence{}, zap.NewNop())
	hub := primitive.NewObjectID().Hex()
	conn := newFakeConn()
	conn.rooms["hub:"+hub] = true
	conn.rooms["hub:other"] = true

	g.Leave(conn, hub)
	g.Leave(conn, hub)
	g.Leave(conn, "garbage")

	if conn.rooms["hub:"+hub] {
		t.Error("still in hub room after Leave")
	}
	if !conn.rooms["hub:other"] {
		t.Error("Leave touched an unrelated room")
	}
}

func TestGate_WhoIsOnline(t *testing.T) {
	store := newFakeStore()
	a, b, c, d := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	hub := primitive.NewObjectID()
	store.hubs[hub] = &fakeHub{members: []primitive.ObjectID{a, b, c, d}}
	online := fakePresence{a.Hex(): true, b.Hex(): true, d.Hex(): true}

	g := hubgate.New(store, online, zap.NewNop())

	got, err := g.WhoIsOnline(context.Background(), a.Hex(), hub.Hex())
	if err != nil {
		t.Fatalf("WhoIsOnline failed: %v", err)
	}
	want := []string{b.Hex(), d.Hex()}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("WhoIsOnline = %v, want %v", got, want)
	}
}

func TestGate_WhoIsOnlineErrors(t *testing.T) {
	store := newFakeStore()
	g := hubgate.New(store, fakePresence{}, zap.NewNop())

	if _, err := g.WhoIsOnline(context.Background(), "u", "bad"); !errors.Is(err, hubgate.ErrInvalidArgument) {
		t.Errorf("invalid id error = %v, want ErrInvalidArgument", err)
	}
	if _, err := g.WhoIsOnline(context.Background(), "u", primitive.NewObjectID().Hex()); !errors.Is(err, hubgate.ErrForbidden) {
		t.Errorf("missing hub error = %v, want ErrForbidden", err)
	}
	store.err = errors.New("boom")
	if _, err := g.WhoIsOnline(context.Background(), "u", primitive.NewObjectID().Hex()); !errors.Is(err, hubgate.ErrUnavailable) {
		t.Errorf("store failure error = %v, want ErrUnavailable", err)
	}
}

func TestRoomName(t *testing.T) {
	if got := hubgate.RoomName("abc"); got != "hub:abc" {
		t.Errorf("RoomName = %q", got)
	}
}
