// internal/app/system/workers/lastseen.go
package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dalemusser/hubsocket/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// DefaultLastSeenQueue is the queue size used when none is configured.
const DefaultLastSeenQueue = 1024

// LastSeenStore persists a user's last-seen timestamp.
type LastSeenStore interface {
	SetLastSeen(ctx context.Context, id primitive.ObjectID, at time.Time) error
}

type lastSeenEntry struct {
	userID string
	at     time.Time
}

// LastSeenWriter is a background worker that writes last-seen timestamps
// off the disconnect path. Writes are best effort: a full queue drops the
// entry and a failed write is logged and forgotten.
type LastSeenWriter struct {
	store   LastSeenStore
	log     *zap.Logger
	queue   chan lastSeenEntry
	stopCh  chan struct{}
	stopped atomic.Bool
	once    sync.Once
	wg      sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewLastSeenWriter creates a last-seen worker with a queue of queueSize
// entries. A non-positive queueSize selects DefaultLastSeenQueue.
func NewLastSeenWriter(store LastSeenStore, logger *zap.Logger, queueSize int) *LastSeenWriter {
	if queueSize <= 0 {
		queueSize = DefaultLastSeenQueue
	}
	return &LastSeenWriter{
		store:  store,
		log:    logger,
		queue:  make(chan lastSeenEntry, queueSize),
		stopCh: make(chan struct{}),
	}
}

// Start begins the background write loop.
func (w *LastSeenWriter) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("last-seen writer started", zap.Int("queue", cap(w.queue)))
}

// RecordLastSeen queues a write and returns immediately.
func (w *LastSeenWriter) RecordLastSeen(userID string, at time.Time) {
	if w.stopped.Load() {
		w.dropped.Add(1)
		return
	}
	select {
	case w.queue <- lastSeenEntry{userID: userID, at: at}:
	default:
		w.dropped.Add(1)
		w.log.Warn("last-seen queue full, dropping write", zap.String("user_id", userID))
	}
}

// Stop stops accepting new entries, writes whatever is already queued, and
// waits for the loop to finish or ctx to expire.
func (w *LastSeenWriter) Stop(ctx context.Context) error {
	w.once.Do(func() {
		w.stopped.Store(true)
		close(w.stopCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Info("last-seen writer stopped",
			zap.Int64("dropped", w.dropped.Load()),
			zap.Int64("failed", w.failed.Load()))
		return nil
	case <-ctx.Done():
		w.log.Warn("last-seen writer did not drain before deadline", zap.Int("pending", len(w.queue)))
		return ctx.Err()
	}
}

// Dropped returns how many entries were discarded without a write attempt.
func (w *LastSeenWriter) Dropped() int64 { return w.dropped.Load() }

// Failed returns how many write attempts returned an error.
func (w *LastSeenWriter) Failed() int64 { return w.failed.Load() }

func (w *LastSeenWriter) run() {
	defer w.wg.Done()

	for {
		select {
		case e := <-w.queue:
			w.write(e)
		case <-w.stopCh:
			for {
				select {
				case e := <-w.queue:
					w.write(e)
				default:
					return
				}
			}
		}
	}
}

func (w *LastSeenWriter) write(e lastSeenEntry) {
	oid, err := primitive.ObjectIDFromHex(e.userID)
	if err != nil {
		w.log.Debug("skipping last-seen for non-ObjectID user", zap.String("user_id", e.userID))
		return
	}

	ctx, cancel := timeouts.WithTimeout(context.Background(), timeouts.Write(), w.log, "last-seen write")
	defer cancel()

	if err := w.store.SetLastSeen(ctx, oid, e.at); err != nil {
		w.failed.Add(1)
		if errors.Is(err, mongo.ErrNoDocuments) {
			w.log.Debug("last-seen for unknown user", zap.String("user_id", e.userID))
			return
		}
		w.log.Warn("failed to persist last-seen",
			zap.String("user_id", e.userID),
			zap.Error(err))
	}
}
