package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/shopilots-chat/internal/domain"
)

func turn(i int) domain.Turn {
	return domain.Turn{Question: fmt.Sprintf("q%d", i), Answer: fmt.Sprintf("a%d", i)}
}

func newRedisStore(t *testing.T, limit int, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, limit, ttl), mr
}

// stores runs fn against every Store implementation.
func stores(t *testing.T, limit int, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		fn(t, NewMemoryStore(limit))
	})
	t.Run("redis", func(t *testing.T) {
		t.Parallel()
		s, _ := newRedisStore(t, limit, time.Hour)
		fn(t, s)
	})
}

func TestHistoryEvictsOldest(t *testing.T) {
	t.Parallel()

	stores(t, 3, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := range 5 {
			require.NoError(t, s.Append(ctx, "s1", turn(i)))
		}

		got, err := s.History(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []domain.Turn{turn(2), turn(3), turn(4)}, got)
	})
}

func TestHistoryUnknownSessionIsEmpty(t *testing.T) {
	t.Parallel()

	stores(t, 6, func(t *testing.T, s Store) {
		got, err := s.History(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()

	stores(t, 6, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, "a", turn(1)))
		require.NoError(t, s.Append(ctx, "b", turn(2)))

		got, err := s.History(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []domain.Turn{turn(1)}, got)
	})
}

func TestConcurrentAppendsSameSession(t *testing.T) {
	t.Parallel()

	stores(t, 6, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for g := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 10 {
					_ = s.Append(ctx, "shared", turn(g*100+i))
					_, _ = s.History(ctx, "shared")
				}
			}()
		}
		wg.Wait()

		got, err := s.History(ctx, "shared")
		require.NoError(t, err)
		assert.Len(t, got, 6)
	})
}

func TestMemoryHistoryIsACopy(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(6)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "s", turn(1)))

	got, _ := s.History(ctx, "s")
	got[0].Answer = "mutated"

	again, _ := s.History(ctx, "s")
	assert.Equal(t, "a1", again[0].Answer)
}

func TestMemoryExpire(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(6)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "old", turn(1)))
	now = now.Add(2 * time.Hour)
	require.NoError(t, s.Append(ctx, "new", turn(2)))

	assert.Equal(t, 1, s.Expire(time.Hour))
	assert.Equal(t, 1, s.Len())

	got, _ := s.History(ctx, "old")
	assert.Empty(t, got)
}

func TestRedisStoreSetsTTL(t *testing.T) {
	t.Parallel()

	s, mr := newRedisStore(t, 6, 30*time.Minute)
	require.NoError(t, s.Append(context.Background(), "s", turn(1)))

	assert.Equal(t, 30*time.Minute, mr.TTL(keyPrefix+"s"))
	mr.FastForward(31 * time.Minute)

	got, err := s.History(context.Background(), "s")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStoreErrors(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	s := NewRedisStore(rdb, 6, 0)
	require.NoError(t, s.Ping(context.Background()))

	require.NoError(t, mr.Set(keyPrefix+"bad", "x"))
	_, err = s.History(context.Background(), "bad")
	assert.Error(t, err)

	_, err = mr.Lpush(keyPrefix+"junk", "{not json")
	require.NoError(t, err)
	_, err = s.History(context.Background(), "junk")
	assert.ErrorContains(t, err, "decode turn")

	mr.Close()
	assert.Error(t, s.Append(context.Background(), "s", turn(1)))
}
