// internal/app/system/relay/relay.go
// Package relay fans global broadcasts out across service processes over a
// Redis pub/sub channel. Each process delivers its own broadcasts locally and
// publishes them; every other process picks them up and delivers them to its
// own connections.
//
// Presence edges are only relayed when they hold for the whole cluster. Each
// user has a Redis set of the nodes holding them online; a node adds itself
// on its local online edge and removes itself on its local offline edge, and
// the edge is global when the set size crosses between 0 and 1.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dalemusser/hubsocket/internal/app/system/timeouts"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "hubsocket:broadcast"

const outboundQueue = 256

// Set membership and size are read in one script so two nodes racing on the
// same user cannot both see themselves as first (or last).
var (
	presenceUp = redis.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
return redis.call('SCARD', KEYS[1])
`)
	presenceDown = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
return redis.call('SCARD', KEYS[1])
`)
)

// Local delivers a broadcast to this process's connections.
type Local interface {
	Broadcast(event string, payload any)
}

// Message is the wire form of a relayed broadcast.
type Message struct {
	Node  string          `json:"node"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Relay implements presence.Broadcaster on top of a local transport and Redis.
type Relay struct {
	rdb     *redis.Client
	channel string
	node    string
	local   Local
	log     *zap.Logger

	out     chan Message
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// Connect parses a redis:// URL and verifies the server answers a ping.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, timeouts.Ping())
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// New creates a Relay. Call Start before relying on cross-process delivery;
// until then Broadcast still delivers locally.
func New(rdb *redis.Client, channel string, local Local, logger *zap.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	node := uuid.NewString()
	return &Relay{
		rdb:     rdb,
		channel: channel,
		node:    node,
		local:   local,
		log:     logger.With(zap.String("relay_node", node), zap.String("channel", channel)),
		out:     make(chan Message, outboundQueue),
	}
}

// Node returns the id this process stamps on the messages it publishes.
func (r *Relay) Node() string { return r.node }

// Dropped returns how many broadcasts were not published because the
// outbound queue was full.
func (r *Relay) Dropped() int64 { return r.dropped.Load() }

// Broadcast delivers locally and queues the event for other processes. It
// never waits on Redis.
func (r *Relay) Broadcast(event string, payload any) {
	r.local.Broadcast(event, payload)

	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("relay encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case r.out <- Message{Node: r.node, Event: event, Data: data}:
	default:
		r.dropped.Add(1)
		r.log.Warn("relay queue full, broadcast not published", zap.String("event", event))
	}
}

// Start subscribes to the channel and begins publishing queued broadcasts.
// It returns once the subscription is confirmed.
func (r *Relay) Start(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(2)
	go r.publishLoop(runCtx)
	go r.receiveLoop(runCtx, sub)

	r.log.Info("broadcast relay started")
	return nil
}

// Stop ends both loops and waits for them. Queued broadcasts that were not
// yet published are discarded.
func (r *Relay) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.log.Info("broadcast relay stopped", zap.Int64("dropped", r.dropped.Load()))
}

// Up records that this node holds userID online and reports whether it is
// the only node that does.
func (r *Relay) Up(userID string) (bool, error) {
	n, err := r.presenceScript(presenceUp, userID)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Down records that this node no longer holds userID online and reports
// whether no node does.
func (r *Relay) Down(userID string) (bool, error) {
	n, err := r.presenceScript(presenceDown, userID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (r *Relay) presenceKey(userID string) string {
	return r.channel + ":presence:" + userID
}

func (r *Relay) presenceScript(script *redis.Script, userID string) (int64, error) {
	ctx, cancel := timeouts.WithTimeout(context.Background(), timeouts.Write(), r.log, "relay presence")
	defer cancel()
	n, err := script.Run(ctx, r.rdb, []string{r.presenceKey(userID)}, r.node).Int64()
	if err != nil {
		return 0, fmt.Errorf("presence set %s: %w", userID, err)
	}
	return n, nil
}

// Ping checks the Redis connection.
func (r *Relay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Relay) publishLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.out:
			b, err := json.Marshal(m)
			if err != nil {
				r.log.Error("relay encode failed", zap.String("event", m.Event), zap.Error(err))
				continue
			}
			pctx, cancel := timeouts.WithTimeout(ctx, timeouts.Write(), r.log, "relay publish")
			err = r.rdb.Publish(pctx, r.channel, b).Err()
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				r.log.Warn("relay publish failed", zap.String("event", m.Event), zap.Error(err))
			}
		}
	}
}

func (r *Relay) receiveLoop(ctx context.Context, sub *redis.PubSub) {
	defer r.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			r.deliver(m.Payload)
		}
	}
}

// deliver hands a message published by another process to the local
// transport. Messages this process published are skipped; they were
// delivered locally when broadcast.
func (r *Relay) deliver(payload string) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil || m.Event == "" {
		r.log.Warn("ignoring malformed relay message", zap.Error(err))
		return
	}
	if m.Node == r.node {
		return
	}
	var data any
	if len(m.Data) > 0 {
		data = m.Data
	}
	r.local.Broadcast(m.Event, data)
}
