package attendance

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/lifecycle"
	"campusevents/internal/metrics"
	"campusevents/internal/store"
)

func TestLocalLocker_SerialisesSameKey(t *testing.T) {
	l := NewLocalLocker()
	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "k")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
	assert.Empty(t, l.locks, "entries are released")
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	// would deadlock if keys shared a mutex
	unlockB, err := l.Lock(context.Background(), "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalLocker().Lock(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func newRedisLocker(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisLocker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisLocker(client, "", ttl)
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	mr, l := newRedisLocker(t, 2*time.Second)
	key := store.LockPrefix + "evt:s1"

	unlock, err := l.Lock(context.Background(), "evt:s1")
	require.NoError(t, err)
	require.True(t, mr.Exists(key))
	token, err := mr.Get(key)
	require.NoError(t, err)
	_, err = uuid.Parse(token)
	assert.NoError(t, err, "value is the holder token")
	assert.Equal(t, 2*time.Second, mr.TTL(key))

	unlock()
	assert.False(t, mr.Exists(key))
}

func TestRedisLocker_HeldKeyTimesOut(t *testing.T) {
	_, l := newRedisLocker(t, 100*time.Millisecond)
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(context.Background(), "k")
	assert.ErrorIs(t, err, errLockHeld)
}

func TestRedisLocker_WaiterGetsKeyAfterRelease(t *testing.T) {
	_, l := newRedisLocker(t, 2*time.Second)
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		second, err := l.Lock(context.Background(), "k")
		if err == nil {
			second()
		}
		acquired <- err
	}()

	time.Sleep(50 * time.Millisecond)
	unlock()
	select {
	case err := <-acquired:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestRedisLocker_ReleaseKeepsAnotherHoldersKey(t *testing.T) {
	mr, l := newRedisLocker(t, time.Second)
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	// our lease lapsed and someone else took the key
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(store.LockPrefix+"k", "other-holder"))

	unlock()
	got, err := mr.Get(store.LockPrefix + "k")
	require.NoError(t, err)
	assert.Equal(t, "other-holder", got)
}

func TestRedisLocker_CancelledContext(t *testing.T) {
	_, l := newRedisLocker(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_MarksUnderRedisLocker(t *testing.T) {
	mr, l := newRedisLocker(t, 2*time.Second)
	st := newMemStore()
	evt := workshop()
	svc := NewService(&memEvents{events: map[string]lifecycle.Event{evt.ID: evt}}, st, st,
		WithLocker(l),
		WithMetrics(metrics.NewAttendance(prometheus.NewRegistry())),
		WithClock(func() time.Time { return monday.Add(time.Hour) }))

	var (
		wg  sync.WaitGroup
		oks int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Mark(context.Background(), "workshop", "s1", "", nil); err == nil {
				atomic.AddInt32(&oks, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), oks)
	assert.Empty(t, mr.Keys(), "every lock was released")
}
