package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashureev/shopilots-chat/internal/domain"
)

const keyPrefix = "chat:history:"

// RedisStore keeps each session's history in a Redis list, so histories
// survive restarts and are shared between replicas.
type RedisStore struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

// NewRedisStore returns a RedisStore keeping limit turns per session. A
// positive ttl expires a session's list after that much inactivity.
func NewRedisStore(rdb *redis.Client, limit int, ttl time.Duration) *RedisStore {
	if limit <= 0 {
		limit = DefaultHistoryLength
	}
	return &RedisStore{rdb: rdb, limit: limit, ttl: ttl}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

func (s *RedisStore) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	vals, err := s.rdb.LRange(ctx, key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	turns := make([]domain.Turn, 0, len(vals))
	for _, v := range vals {
		var t domain.Turn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, fmt.Errorf("failed to decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Append pushes and trims in one MULTI/EXEC so concurrent appends to the
// same session cannot leave the list over its limit.
func (s *RedisStore) Append(ctx context.Context, sessionID string, turn domain.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	k := key(sessionID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, data)
		pipe.LTrim(ctx, k, int64(-s.limit), -1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
