package redislock_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avstrong/bnb/internal/availability"
	"github.com/avstrong/bnb/internal/lock/redislock"
	"github.com/avstrong/bnb/internal/logger"
)

func newLocker(t *testing.T) *redislock.Locker {
	t.Helper()

	addr := os.Getenv("BNB_REDIS_ADDR")
	if addr == "" {
		t.Skip("BNB_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(context.Background()).Err())

	return redislock.New(redislock.Config{L: logger.Nop(), Client: client, TTL: 5 * time.Second})
}

func TestLockIsExclusive(t *testing.T) {
	locker := newLocker(t)
	key := "test:" + t.Name()

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, key)
	require.ErrorIs(t, err, availability.ErrLockTimeout)

	unlock()

	unlock, err = locker.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock()
}

func TestLockSerializesCriticalSection(t *testing.T) {
	locker := newLocker(t)
	key := "test:" + t.Name()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock, err := locker.Lock(context.Background(), key)
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}
