package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backend struct {
	m Manager
	// expire makes every existing lock expire, however the backend
	// tracks time.
	expire func()
}

func backends(t *testing.T) map[string]backend {
	t.Helper()

	clock := newFakeClock()
	mem := NewMemory(Options{TTL: time.Minute, NowFunc: clock.Now})

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rd := NewRedis(RedisOptions{Addr: mr.Addr()}, Options{TTL: time.Minute})
	t.Cleanup(func() { rd.Close() })

	return map[string]backend{
		"memory": {m: mem, expire: func() { clock.Advance(2 * time.Minute) }},
		"redis":  {m: rd, expire: func() { mr.FastForward(2 * time.Minute) }},
	}
}

func TestManager_AcquireReleaseScenario(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := b.m.Acquire(ctx, "s1", "static", []string{"https://u1.example"})
			require.NoError(t, err)
			require.NotNil(t, first)
			assert.Equal(t, []string{"https://u1.example"}, first.TargetURLs)

			second, err := b.m.Acquire(ctx, "s1", "static", []string{"https://u1.example"})
			require.NoError(t, err)
			assert.Nil(t, second)

			ok, err := b.m.Release(ctx, first.ID)
			require.NoError(t, err)
			assert.True(t, ok)

			third, err := b.m.Acquire(ctx, "s1", "static", []string{"https://u1.example"})
			require.NoError(t, err)
			require.NotNil(t, third)
			assert.NotEqual(t, first.ID, third.ID)
		})
	}
}

func TestManager_ReleaseIdempotent(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l, err := b.m.Acquire(ctx, "s1", "static", nil)
			require.NoError(t, err)

			ok, err := b.m.Release(ctx, l.ID)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = b.m.Release(ctx, l.ID)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = b.m.Release(ctx, "never-issued")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestManager_KeysAreIndependent(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := b.m.Acquire(ctx, "s1", "static", nil)
			require.NoError(t, err)
			require.NotNil(t, a)

			other, err := b.m.Acquire(ctx, "s1", "dynamic", nil)
			require.NoError(t, err)
			assert.NotNil(t, other)

			otherSession, err := b.m.Acquire(ctx, "s2", "static", nil)
			require.NoError(t, err)
			assert.NotNil(t, otherSession)
		})
	}
}

func TestManager_ExpiredLockIsReleased(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stale, err := b.m.Acquire(ctx, "s1", "static", nil)
			require.NoError(t, err)
			require.NotNil(t, stale)

			b.expire()

			fresh, err := b.m.Acquire(ctx, "s1", "static", nil)
			require.NoError(t, err)
			require.NotNil(t, fresh)

			// Releasing the stale lock must not free the fresh one.
			_, err = b.m.Release(ctx, stale.ID)
			require.NoError(t, err)
			blocked, err := b.m.Acquire(ctx, "s1", "static", nil)
			require.NoError(t, err)
			assert.Nil(t, blocked)
		})
	}
}

func TestManager_ConcurrentAcquire_OneWinner(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const n = 16
			var (
				wg   sync.WaitGroup
				wins atomic.Int32
			)
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					l, err := b.m.Acquire(ctx, "s1", "static", nil)
					if err != nil {
						t.Errorf("acquire: %v", err)
						return
					}
					if l != nil {
						wins.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestManager_ReleaseSession(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, scraper := range []string{"static", "dynamic"} {
				l, err := b.m.Acquire(ctx, "s1", scraper, nil)
				require.NoError(t, err)
				require.NotNil(t, l)
			}
			keep, err := b.m.Acquire(ctx, "s2", "static", nil)
			require.NoError(t, err)

			n, err := b.m.ReleaseSession(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			again, err := b.m.Acquire(ctx, "s1", "static", nil)
			require.NoError(t, err)
			assert.NotNil(t, again)

			blocked, err := b.m.Acquire(ctx, "s2", "static", nil)
			require.NoError(t, err)
			assert.Nil(t, blocked)
			ok, err := b.m.Release(ctx, keep.ID)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestManager_RequiresKey(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.m.Acquire(context.Background(), "", "static", nil)
			assert.Error(t, err)
		})
	}
}

func TestMemory_Sweep(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(Options{TTL: time.Minute, NowFunc: clock.Now})
	ctx := context.Background()

	_, err := m.Acquire(ctx, "s1", "static", nil)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "s2", "static", nil)
	require.NoError(t, err)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(time.Minute)
	n, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestJanitor_SweepsUntilCancelled(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(Options{TTL: time.Millisecond, NowFunc: clock.Now})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := m.Acquire(ctx, "s1", "static", nil)
	require.NoError(t, err)
	clock.Advance(time.Second)

	done := make(chan struct{})
	go func() {
		Janitor(ctx, m, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.byKey) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestRedis_ReleaseSessionKeepsNewerLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	rd := NewRedis(RedisOptions{Addr: mr.Addr()}, Options{TTL: time.Minute})
	t.Cleanup(func() { rd.Close() })
	ctx := context.Background()

	old, err := rd.Acquire(ctx, "s1", "static", nil)
	require.NoError(t, err)
	require.NotNil(t, old)

	// A lock taken after the index was listed must stay indexed.
	listed, err := rd.client.SMembers(ctx, rd.sessionKey("s1")).Result()
	require.NoError(t, err)
	newer, err := rd.Acquire(ctx, "s1", "dynamic", nil)
	require.NoError(t, err)
	require.NotNil(t, newer)

	n, err := rd.releaseIDs(ctx, "s1", listed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	members, err := rd.client.SMembers(ctx, rd.sessionKey("s1")).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID}, members)

	n, err = rd.ReleaseSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	again, err := rd.Acquire(ctx, "s1", "dynamic", nil)
	require.NoError(t, err)
	assert.NotNil(t, again)
}
