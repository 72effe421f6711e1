package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func exclusive(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "driver-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestKeyedMutexExclusive(t *testing.T) {
	exclusive(t, NewKeyedMutex())
}

func TestKeyedMutexHonorsContext(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// other keys are independent
	u2, err := k.Lock(context.Background(), "b")
	require.NoError(t, err)
	u2()
}

func TestKeyedMutexDropsIdleEntries(t *testing.T) {
	k := NewKeyedMutex()
	unlock, _ := k.Lock(context.Background(), "a")
	unlock()
	unlock()
	assert.Empty(t, k.locks)
}

func newLease(t *testing.T) (*miniredis.Miniredis, *RedisLease) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisLease(client, time.Second, zap.NewNop())
}

func TestRedisLeaseExclusive(t *testing.T) {
	_, l := newLease(t)
	exclusive(t, l)
}

func TestRedisLeaseReleaseKeepsForeignToken(t *testing.T) {
	mr, l := newLease(t)
	unlock, err := l.Lock(context.Background(), "d1")
	require.NoError(t, err)

	// lease expired and was taken by someone else
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("eld:lock:d1", "other"))
	unlock()

	v, err := mr.Get("eld:lock:d1")
	require.NoError(t, err)
	assert.Equal(t, "other", v)
}

func TestRedisLeaseTimesOut(t *testing.T) {
	_, l := newLease(t)
	unlock, err := l.Lock(context.Background(), "d1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "d1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
