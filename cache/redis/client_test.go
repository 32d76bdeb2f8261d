package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) (Config, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return Config{Addr: mr.Addr()}, mr
}

func TestRedisCache_KV(t *testing.T) {
	cfg, mr := newTestConfig(t)
	c, err := NewCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	_, err = c.Get(ctx, "puzzle:lighthouse")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "puzzle:lighthouse", `{"name":"lighthouse"}`, time.Minute))
	v, err := c.Get(ctx, "puzzle:lighthouse")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"lighthouse"}`, v)

	ok, err := c.Exists(ctx, "puzzle:lighthouse")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = c.Exists(ctx, "puzzle:lighthouse")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_SetNXAndDel(t *testing.T) {
	cfg, _ := newTestConfig(t)
	c, err := NewCache(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "sms:SM1", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.SetNX(ctx, "sms:SM1", "1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Del(ctx, "sms:SM1"))
	ok, _ = c.Exists(ctx, "sms:SM1")
	assert.False(t, ok)
}

func TestRedisPubSub_Delivers(t *testing.T) {
	cfg, _ := newTestConfig(t)
	ps, err := NewPubSub(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "quest_events")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "quest_events", `{"kind":"started"}`))
	select {
	case msg := <-ch:
		assert.Equal(t, "quest_events", msg.Channel)
		assert.Equal(t, `{"kind":"started"}`, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNewCache_Unreachable(t *testing.T) {
	_, err := NewCache(Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
