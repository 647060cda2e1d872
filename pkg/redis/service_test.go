package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := NewRedisService(&RedisConfig{Host: mr.Host(), Port: mr.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, mr
}

func TestValues(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	key := svc.GenerateKey(RULE_CACHE_EPOCH, "tenant-1")
	assert.Equal(t, "astra_routing_rule_epoch:tenant-1:", key)

	_, err := svc.GetValue(ctx, key)
	assert.ErrorIs(t, err, ErrKeyNotExist)

	require.NoError(t, svc.SetValue(ctx, key, "3", time.Minute))
	val, err := svc.GetValue(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "3", val)

	require.NoError(t, svc.DelValue(ctx, key))
	_, err = svc.GetValue(ctx, key)
	assert.ErrorIs(t, err, ErrKeyNotExist)
}

func TestLock(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()
	key := svc.GenerateKey(SWEEPER_LOCK, "global")

	ok, err := svc.AcquireLock(ctx, key, "pod-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.AcquireLock(ctx, key, "pod-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// only the holder can release
	require.NoError(t, svc.ReleaseLock(ctx, key, "pod-b"))
	assert.True(t, mr.Exists(key))
	require.NoError(t, svc.ReleaseLock(ctx, key, "pod-a"))
	assert.False(t, mr.Exists(key))

	ok, err = svc.AcquireLock(ctx, key, "pod-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = svc.AcquireLock(ctx, key, "pod-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock expires with its ttl")
}

func TestPublishSubscribe(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 1)
	require.NoError(t, svc.Subscribe(ctx, "routing-test", func(payload string) { got <- payload }))
	require.NoError(t, svc.Publish(ctx, "routing-test", map[string]string{"tenant_id": "tenant-1"}))

	select {
	case payload := <-got:
		assert.JSONEq(t, `{"tenant_id":"tenant-1"}`, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}
