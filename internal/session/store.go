// Package session keeps the short per-session conversation history used as
// generation context.
package session

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shopilots-chat/internal/domain"
)

// DefaultHistoryLength is the number of turns kept per session.
const DefaultHistoryLength = 6

const shardCount = 32

// Store is a concurrency-safe keyed store of bounded chat histories.
type Store interface {
	// History returns the session's turns, oldest first.
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)
	// Append adds a turn, evicting the oldest beyond the history length.
	Append(ctx context.Context, sessionID string, turn domain.Turn) error
}

type entry struct {
	turns   []domain.Turn
	touched time.Time
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

// MemoryStore is an in-process Store sharded by session id so that
// unrelated sessions do not contend on one lock.
type MemoryStore struct {
	shards [shardCount]*shard
	limit  int
	now    func() time.Time
}

// NewMemoryStore returns a MemoryStore keeping limit turns per session.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultHistoryLength
	}
	s := &MemoryStore{limit: limit, now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*entry)}
	}
	return s
}

func (s *MemoryStore) shard(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) History(_ context.Context, sessionID string) ([]domain.Turn, error) {
	sh := s.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.Turn, len(e.turns))
	copy(out, e.turns)
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, turn domain.Turn) error {
	sh := s.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[sessionID]
	if !ok {
		e = &entry{}
		sh.sessions[sessionID] = e
	}
	e.turns = append(e.turns, turn)
	if over := len(e.turns) - s.limit; over > 0 {
		e.turns = append(e.turns[:0], e.turns[over:]...)
	}
	e.touched = s.now()
	return nil
}

// Len returns the number of sessions held.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// Expire drops sessions not appended to within ttl and returns how many
// were dropped.
func (s *MemoryStore) Expire(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.sessions {
			if e.touched.Before(cutoff) {
				delete(sh.sessions, id)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// StartExpiry runs Expire every interval until ctx is cancelled.
func (s *MemoryStore) StartExpiry(ctx context.Context, ttl, interval time.Duration, logger *slog.Logger) {
	if ttl <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Expire(ttl); n > 0 {
					logger.Info("expired idle chat histories", "count", n)
				}
			}
		}
	}()
}
