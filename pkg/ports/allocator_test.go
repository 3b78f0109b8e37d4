package ports

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, min, max int) *Allocator {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAllocator(client, min, max)
}

func TestInitializePopulatesOnce(t *testing.T) {
	a := newTestAllocator(t, 10000, 10004)
	ctx := context.Background()

	added, err := a.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, added)

	free, inUse, err := a.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), free)
	assert.Zero(t, inUse)

	// A second process initializing against a warm pool must not
	// touch it.
	added, err = a.Initialize(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)

	// Even with the free set drained, live reservations block
	// re-seeding.
	for i := 0; i < 5; i++ {
		_, err := a.Reserve(ctx, time.Hour)
		require.NoError(t, err)
	}
	added, err = a.Initialize(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestReserveHandsOutDistinctPorts(t *testing.T) {
	a := newTestAllocator(t, 10000, 10002)
	ctx := context.Background()

	_, err := a.Initialize(ctx)
	require.NoError(t, err)

	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		port, err := a.Reserve(ctx, time.Hour)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, port, 10000)
		assert.LessOrEqual(t, port, 10002)
		assert.False(t, seen[port], "port %d handed out twice", port)
		seen[port] = true
	}

	_, err = a.Reserve(ctx, time.Hour)
	assert.ErrorIs(t, err, ErrOutOfPorts)
}

func TestReservePopsLowestFirst(t *testing.T) {
	a := newTestAllocator(t, 10000, 10010)
	ctx := context.Background()

	_, err := a.Initialize(ctx)
	require.NoError(t, err)

	port, err := a.Reserve(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10000, port)
}

func TestReleaseRecyclesPort(t *testing.T) {
	a := newTestAllocator(t, 10000, 10001)
	ctx := context.Background()

	_, err := a.Initialize(ctx)
	require.NoError(t, err)

	first, err := a.Reserve(ctx, time.Hour)
	require.NoError(t, err)
	_, err = a.Reserve(ctx, time.Hour)
	require.NoError(t, err)

	require.NoError(t, a.Release(ctx, first))

	again, err := a.Reserve(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestReleaseIgnoresOutOfRangePorts(t *testing.T) {
	a := newTestAllocator(t, 10000, 10001)
	ctx := context.Background()

	_, err := a.Initialize(ctx)
	require.NoError(t, err)

	// Traefik-routed instances persist port 0; releasing it must not
	// poison the pool.
	require.NoError(t, a.Release(ctx, 0))
	require.NoError(t, a.Release(ctx, 99999))

	free, inUse, err := a.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), free)
	assert.Zero(t, inUse)
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := newTestAllocator(t, 10000, 10001)
	ctx := context.Background()

	_, err := a.Initialize(ctx)
	require.NoError(t, err)

	port, err := a.Reserve(ctx, time.Hour)
	require.NoError(t, err)

	require.NoError(t, a.Release(ctx, port))
	require.NoError(t, a.Release(ctx, port))

	free, inUse, err := a.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), free)
	assert.Zero(t, inUse)
}

func TestExpiredReflectsReservationTTL(t *testing.T) {
	a := newTestAllocator(t, 10000, 10010)
	ctx := context.Background()

	_, err := a.Initialize(ctx)
	require.NoError(t, err)

	port, err := a.Reserve(ctx, 10*time.Second)
	require.NoError(t, err)

	now := time.Now()

	expired, err := a.Expired(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = a.Expired(ctx, now.Add(11*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []int{port}, expired)
}

func TestExtendPushesExpiryOut(t *testing.T) {
	a := newTestAllocator(t, 10000, 10010)
	ctx := context.Background()

	_, err := a.Initialize(ctx)
	require.NoError(t, err)

	port, err := a.Reserve(ctx, 10*time.Second)
	require.NoError(t, err)

	require.NoError(t, a.Extend(ctx, port, 10*time.Minute))

	probe := time.Now().Add(11 * time.Second)
	expired, err := a.Expired(ctx, probe)
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = a.Expired(ctx, probe.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []int{port}, expired)
}

func TestExtendUnreservedPort(t *testing.T) {
	a := newTestAllocator(t, 10000, 10010)
	ctx := context.Background()

	_, err := a.Initialize(ctx)
	require.NoError(t, err)

	err = a.Extend(ctx, 10005, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestCounts(t *testing.T) {
	a := newTestAllocator(t, 10000, 10004)
	ctx := context.Background()

	_, err := a.Initialize(ctx)
	require.NoError(t, err)

	_, err = a.Reserve(ctx, time.Hour)
	require.NoError(t, err)
	_, err = a.Reserve(ctx, time.Hour)
	require.NoError(t, err)

	free, inUse, err := a.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), free)
	assert.Equal(t, int64(2), inUse)
}
