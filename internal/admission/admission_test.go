// internal/admission/admission_test.go
package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestConnect(t *testing.T) {
	srv, _ := newRedis(t)
	logger := zaptest.NewLogger(t)

	client, err := Connect(context.Background(), "redis://"+srv.Addr()+"/0", logger)
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())

	_, err = Connect(context.Background(), "not a url", logger)
	assert.Error(t, err)
}

func TestSessionSet_Ceiling(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	set, err := NewSessionSet(client, "running-tasks", 2, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, set.Admit(ctx, "a"))
	require.NoError(t, set.Admit(ctx, "b"))
	assert.ErrorIs(t, set.Admit(ctx, "c"), ErrCapacityExhausted)

	n, err := set.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, set.Release(ctx, "a"))
	require.NoError(t, set.Release(ctx, "unknown"))
	assert.NoError(t, set.Admit(ctx, "c"))
}

func TestSessionSet_RejectsNonPositiveLimit(t *testing.T) {
	_, client := newRedis(t)
	_, err := NewSessionSet(client, "k", 0, nil)
	assert.Error(t, err)
}

func TestSessionSet_ConcurrentAdmitNeverExceedsCeiling(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	const limit = 5

	set, err := NewSessionSet(client, "running-tasks", limit, nil)
	require.NoError(t, err)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if set.Admit(ctx, fmt.Sprintf("s-%d", i)) == nil {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(limit), admitted.Load())
	n, err := set.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(limit), n)
}

func TestBackendRegistry_AcquirePicksLeastLoaded(t *testing.T) {
	srv, client := newRedis(t)
	ctx := context.Background()

	srv.HSet("ws-endpoints", "a", `{"ws_endpoint":"ws://a:9222","traffic":3}`)
	srv.HSet("ws-endpoints", "b", `{"ws_endpoint":"ws://b:9222","traffic":2}`)

	reg, err := NewBackendRegistry(client, "ws-endpoints", 3, zaptest.NewLogger(t))
	require.NoError(t, err)

	got, err := reg.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, Backend{Key: "b", WSEndpoint: "ws://b:9222", Traffic: 3}, got)

	_, err = reg.Acquire(ctx)
	assert.ErrorIs(t, err, ErrNoBackend)

	require.NoError(t, reg.Release(ctx, "b"))
	backends, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, backends, 2)
	assert.Equal(t, 3, backends[0].Traffic)
	assert.Equal(t, 2, backends[1].Traffic)
}

func TestBackendRegistry_TiesGoToFirstKey(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	reg, err := NewBackendRegistry(client, "ws-endpoints", 2, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, "zeta", "ws://z"))
	require.NoError(t, reg.Register(ctx, "alpha", "ws://a"))

	sel, err := reg.Select(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alpha", sel.Key)

	got, err := reg.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Key)

	got, err = reg.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "zeta", got.Key)
}

func TestBackendRegistry_RegisterKeepsTraffic(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	reg, err := NewBackendRegistry(client, "ws-endpoints", 3, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, "a", "ws://old"))
	ok, err := reg.Increment(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, reg.Register(ctx, "a", "ws://new"))
	backends, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Backend{{Key: "a", WSEndpoint: "ws://new", Traffic: 1}}, backends)

	assert.Error(t, reg.Register(ctx, "", "ws://x"))
}

func TestBackendRegistry_TrafficBounds(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	reg, err := NewBackendRegistry(client, "ws-endpoints", 1, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, "a", "ws://a"))

	ok, err := reg.Decrement(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "traffic must not go below zero")

	ok, err = reg.Increment(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Increment(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "traffic must not exceed capacity")

	_, err = reg.Increment(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = reg.Select(ctx)
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestBackendRegistry_ConcurrentAcquireRespectsCapacity(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	reg, err := NewBackendRegistry(client, "ws-endpoints", 2, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, "a", "ws://a"))
	require.NoError(t, reg.Register(ctx, "b", "ws://b"))

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Acquire(ctx); err == nil {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(4), acquired.Load())
	backends, err := reg.List(ctx)
	require.NoError(t, err)
	for _, b := range backends {
		assert.Equal(t, 2, b.Traffic, b.Key)
	}
}

func TestPickLeastLoaded_SkipsNegativeTraffic(t *testing.T) {
	got, err := pickLeastLoaded([]Backend{{Key: "a", Traffic: -1}, {Key: "b", Traffic: 1}}, 3)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Key)

	_, err = pickLeastLoaded(nil, 3)
	assert.ErrorIs(t, err, ErrNoBackend)
}
