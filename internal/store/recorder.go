package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shopilots-chat/internal/domain"
	"github.com/ashureev/shopilots-chat/internal/metrics"
)

const writeTimeout = 5 * time.Second

// Recorder writes events to an EventStore from a background goroutine so
// request handlers never wait on the database. Events are dropped when
// the queue is full.
type Recorder struct {
	store  EventStore
	queue  chan domain.ConversationEvent
	logger *slog.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewRecorder starts a Recorder with room for queueSize pending events.
func NewRecorder(store EventStore, queueSize int, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		queue:  make(chan domain.ConversationEvent, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// Enqueue schedules ev for archiving without blocking.
func (r *Recorder) Enqueue(ev domain.ConversationEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- ev:
	default:
		metrics.ArchiveDropped.Inc()
		r.logger.Warn("archive queue full, dropping event", "session_id", ev.SessionID, "event_type", ev.EventType)
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.SaveEvent(ctx, ev); err != nil {
			r.logger.Error("failed to archive event", "session_id", ev.SessionID, "event_type", ev.EventType, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be written,
// or for ctx to expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
