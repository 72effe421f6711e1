package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLease is a Locker backed by SET NX PX. A lease that outlives its TTL
// is released by Redis so a crashed holder cannot wedge a driver.
type RedisLease struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

func NewRedisLease(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLease {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLease{client: client, prefix: "eld:lock:", ttl: ttl, poll: 25 * time.Millisecond, logger: logger}
}

func (r *RedisLease) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.New().String()
	wait := r.poll
	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if wait < 500*time.Millisecond {
			wait *= 2
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// release on a fresh context; the caller's may already be done
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, r.client, []string{k}, token).Err(); err != nil && err != redis.Nil {
				r.logger.Warn("lock release failed", zap.String("key", k), zap.Error(err))
			}
		})
	}, nil
}
