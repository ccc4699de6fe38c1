package relay

import (
	"context"
	"encoding/json"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/hubsocket/internal/app/system/presence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type delivered struct {
	event string
	data  string
}

type fakeLocal struct {
	mu   sync.Mutex
	got  []delivered
	seen chan struct{}
}

func newFakeLocal() *fakeLocal { return &fakeLocal{seen: make(chan struct{}, 16)} }

func (f *fakeLocal) Broadcast(event string, payload any) {
	b, _ := json.Marshal(payload)
	f.mu.Lock()
	f.got = append(f.got, delivered{event: event, data: string(b)})
	f.mu.Unlock()
	f.seen <- struct{}{}
}

func (f *fakeLocal) events() []delivered {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivered(nil), f.got...)
}

func TestRelay_BroadcastDeliversLocallyAndQueues(t *testing.T) {
	local := newFakeLocal()
	r := New(nil, "", local, zap.NewNop())

	r.Broadcast("user:online", map[string]string{"userId": "a"})

	got := local.events()
	if len(got) != 1 || got[0].event != "user:online" || got[0].data != `{"userId":"a"}` {
		t.Fatalf("local delivery = %+v", got)
	}
	select {
	case m := <-r.out:
		if m.Node != r.Node() || m.Event != "user:online" || string(m.Data) != `{"userId":"a"}` {
			t.Errorf("queued message = %+v", m)
		}
	default:
		t.Fatal("nothing queued for publish")
	}
}

func TestRelay_FullQueueDropsWithoutBlocking(t *testing.T) {
	r := New(nil, "", newFakeLocal(), zap.NewNop())
	// Drain the fake's notifications so Broadcast never blocks on them.
	go func() {
		for range r.local.(*fakeLocal).seen {
		}
	}()

	for i := 0; i < outboundQueue+5; i++ {
		r.Broadcast("tick", i)
	}
	if r.Dropped() != 5 {
		t.Errorf("Dropped = %d, want 5", r.Dropped())
	}
}

func TestRelay_DeliverSkipsOwnMessages(t *testing.T) {
	local := newFakeLocal()
	r := New(nil, "", local, zap.NewNop())

	own, _ := json.Marshal(Message{Node: r.Node(), Event: "user:online", Data: json.RawMessage(`{"userId":"a"}`)})
	other, _ := json.Marshal(Message{Node: "other-node", Event: "user:offline", Data: json.RawMessage(`{"userId":"b","lastSeen":"x"}`)})

	r.deliver(string(own))
	r.deliver(string(other))
	r.deliver("garbage")
	r.deliver(`{"node":"other-node"}`)

	got := local.events()
	if len(got) != 1 {
		t.Fatalf("delivered %d messages, want 1: %+v", len(got), got)
	}
	if got[0].event != "user:offline" || got[0].data != `{"userId":"b","lastSeen":"x"}` {
		t.Errorf("delivered %+v", got[0])
	}
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("HUBSOCKET_TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rdb, err := Connect(ctx, url)
	if err != nil {
		t.Skipf("redis not available (%s): %v", url, err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRelay_CrossProcessDelivery(t *testing.T) {
	rdb := testRedis(t)
	channel := "hubsocket:test:" + time.Now().Format("150405.000000000")

	localA, localB := newFakeLocal(), newFakeLocal()
	a := New(rdb, channel, localA, zap.NewNop())
	b := New(rdb, channel, localB, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start a: %v", err)
	}
	defer a.Stop()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("start b: %v", err)
	}
	defer b.Stop()

	a.Broadcast("user:online", map[string]string{"userId": "u1"})

	select {
	case <-localB.seen:
	case <-time.After(3 * time.Second):
		t.Fatal("relayed broadcast never reached the other node")
	}
	got := localB.events()
	if got[0].event != "user:online" || got[0].data != `{"userId":"u1"}` {
		t.Errorf("node b got %+v", got[0])
	}

	// Give a's own subscription time to see (and skip) its message.
	time.Sleep(100 * time.Millisecond)
	if n := len(localA.events()); n != 1 {
		t.Errorf("node a delivered %d times, want 1", n)
	}
}

// clusterSet is an in-memory stand-in for the Redis node sets, shared by
// several nodes.
type clusterSet struct {
	mu      sync.Mutex
	holders map[string]map[string]struct{}
}

func newClusterSet() *clusterSet {
	return &clusterSet{holders: make(map[string]map[string]struct{})}
}

func (c *clusterSet) node(name string) nodeEdges { return nodeEdges{set: c, node: name} }

type nodeEdges struct {
	set  *clusterSet
	node string
}

func (n nodeEdges) Up(userID string) (bool, error) {
	n.set.mu.Lock()
	defer n.set.mu.Unlock()
	h, ok := n.set.holders[userID]
	if !ok {
		h = make(map[string]struct{})
		n.set.holders[userID] = h
	}
	h[n.node] = struct{}{}
	return len(h) == 1, nil
}

func (n nodeEdges) Down(userID string) (bool, error) {
	n.set.mu.Lock()
	defer n.set.mu.Unlock()
	h := n.set.holders[userID]
	delete(h, n.node)
	if len(h) == 0 {
		delete(n.set.holders, userID)
		return true, nil
	}
	return false, nil
}

// forward hands everything queued for publish on from to the other node,
// the way the subscription would.
func forward(t *testing.T, from, to *Relay) {
	t.Helper()
	for {
		select {
		case m := <-from.out:
			b, err := json.Marshal(m)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			to.deliver(string(b))
		default:
			return
		}
	}
}

func eventNames(l *fakeLocal) []string {
	var out []string
	for _, d := range l.events() {
		out = append(out, d.event)
	}
	return out
}

func TestRelay_PresenceEdgesAcrossNodes(t *testing.T) {
	shared := newClusterSet()
	localA, localB := newFakeLocal(), newFakeLocal()
	relA := New(nil, "", localA, zap.NewNop())
	relB := New(nil, "", localB, zap.NewNop())

	svcA := presence.NewService(relA, nil, zap.NewNop())
	svcA.UseClusterEdges(shared.node("a"))
	svcB := presence.NewService(relB, nil, zap.NewNop())
	svcB.UseClusterEdges(shared.node("b"))

	exchange := func() {
		forward(t, relA, relB)
		forward(t, relB, relA)
	}

	svcA.OnConnect("U", "a1")
	exchange()
	svcB.OnConnect("U", "b1")
	exchange()
	svcB.OnDisconnect("U", "b1")
	exchange()

	if !svcA.IsOnline("U") {
		t.Fatal("node a should still hold U online")
	}
	want := []string{presence.EventUserOnline}
	if got := eventNames(localA); !reflect.DeepEqual(got, want) {
		t.Errorf("node a clients got %v, want %v", got, want)
	}
	if got := eventNames(localB); !reflect.DeepEqual(got, want) {
		t.Errorf("node b clients got %v, want %v", got, want)
	}

	svcA.OnDisconnect("U", "a1")
	exchange()

	want = []string{presence.EventUserOnline, presence.EventUserOffline}
	if got := eventNames(localA); !reflect.DeepEqual(got, want) {
		t.Errorf("node a clients got %v, want %v", got, want)
	}
	if got := eventNames(localB); !reflect.DeepEqual(got, want) {
		t.Errorf("node b clients got %v, want %v", got, want)
	}
}

func TestRelay_UpDownWithRedis(t *testing.T) {
	rdb := testRedis(t)
	channel := "hubsocket:test:" + time.Now().Format("150405.000000000")
	a := New(rdb, channel, newFakeLocal(), zap.NewNop())
	b := New(rdb, channel, newFakeLocal(), zap.NewNop())
	t.Cleanup(func() { rdb.Del(context.Background(), a.presenceKey("U")) })

	steps := []struct {
		name string
		call func(string) (bool, error)
		want bool
	}{
		{"a up", a.Up, true},
		{"b up", b.Up, false},
		{"b up again", b.Up, false},
		{"b down", b.Down, false},
		{"a down", a.Down, true},
		{"a up after empty", a.Up, true},
		{"a down again", a.Down, true},
	}
	for _, s := range steps {
		got, err := s.call("U")
		if err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if got != s.want {
			t.Errorf("%s: got %v, want %v", s.name, got, s.want)
		}
	}
}
