package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyengine/internal/model"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("u1", model.TriggerSessionComplete, "r1", "s1")
	assert.Equal(t, a, Fingerprint("u1", model.TriggerSessionComplete, "r1", "s1"))
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, Fingerprint("u2", model.TriggerSessionComplete, "r1", "s1"))
	assert.NotEqual(t, a, Fingerprint("u1", model.TriggerSessionComplete, "r2", "s1"))
	assert.NotEqual(t, a, Fingerprint("u1", model.TriggerSessionComplete, "r1", "s2"))
	// Separators keep adjacent fields from running together.
	assert.NotEqual(t, Fingerprint("ab", model.TriggerCustom, "c", "d"), Fingerprint("a", model.TriggerCustom, "bc", "d"))
}

func TestTTL(t *testing.T) {
	assert.Equal(t, time.Hour, TTL(0, time.Hour))
	assert.Equal(t, time.Hour, TTL(30*time.Minute, time.Hour))
	assert.Equal(t, 48*time.Hour, TTL(24*time.Hour, time.Hour))
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryStore_RecordAndExpire(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(0).WithClock(clock.now)

	assert.False(t, s.ShouldSuppress(ctx, "k"))
	ok, err := s.Record(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, s.ShouldSuppress(ctx, "k"))

	ok, err = s.Record(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.advance(time.Hour)
	assert.False(t, s.ShouldSuppress(ctx, "k"))
	ok, err = s.Record(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_Release(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	_, err := s.Record(ctx, "k", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "k"))
	assert.False(t, s.ShouldSuppress(ctx, "k"))
}

func TestMemoryStore_CleanupAndEviction(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(2).WithClock(clock.now)

	_, _ = s.Record(ctx, "short", time.Minute)
	_, _ = s.Record(ctx, "long", time.Hour)
	clock.advance(2 * time.Minute)

	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())

	_, _ = s.Record(ctx, "b", 2*time.Hour)
	_, _ = s.Record(ctx, "c", 3*time.Hour)
	assert.Equal(t, 2, s.Len())
	assert.False(t, s.ShouldSuppress(ctx, "long"), "entry closest to expiry is evicted")
	assert.True(t, s.ShouldSuppress(ctx, "c"))
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, zap.NewNop()), mr
}

func TestRedisStore_RecordAndExpire(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	ok, err := s.Record(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, s.ShouldSuppress(ctx, "k"))

	ok, err = s.Record(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Hour + time.Second)
	assert.False(t, s.ShouldSuppress(ctx, "k"))

	_, err = s.Record(ctx, "k", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "k"))
	assert.False(t, s.ShouldSuppress(ctx, "k"))
}

func TestRedisStore_FailsOpen(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	mr.Close()

	assert.False(t, s.ShouldSuppress(ctx, "k"))
	ok, err := s.Record(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}
