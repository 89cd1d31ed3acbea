// Package redislock shares room locks between service instances through Redis.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/avstrong/bnb/internal/availability"
	"github.com/avstrong/bnb/internal/logger"
)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 25 * time.Millisecond
	keyPrefix    = "bnb:lock:"
)

// release deletes the key only while it still holds our token.
var release = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type Config struct {
	L      *logger.Logger
	Client redis.UniversalClient
	// TTL bounds how long a crashed holder can block a room.
	TTL   time.Duration
	Retry time.Duration
}

type Locker struct {
	l      *logger.Logger
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
}

var _ availability.Locker = (*Locker)(nil)

func New(conf Config) *Locker {
	if conf.TTL == 0 {
		conf.TTL = defaultTTL
	}

	if conf.Retry == 0 {
		conf.Retry = defaultRetry
	}

	return &Locker{l: conf.L, client: conf.Client, ttl: conf.TTL, retry: conf.Retry}
}

// Lock polls SET NX until it owns key or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	key = keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}

		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w: %w", key, availability.ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			if err := release.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				l.l.LogErrorf("Could not release lock %s: %v", key, err.Error())
			}
		})
	}, nil
}
