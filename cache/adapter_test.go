package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache_LocalFallback(t *testing.T) {
	c, err := NewCache(CacheConfig{})
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestNewCache_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := NewCache(CacheConfig{RedisAddr: mr.Addr()})
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestPubSub_BothBackendsDeliver(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	for name, cfg := range map[string]CacheConfig{
		"local": {},
		"redis": {RedisAddr: mr.Addr()},
	} {
		t.Run(name, func(t *testing.T) {
			ps, err := NewPubSub(cfg)
			require.NoError(t, err)
			ctx := context.Background()
			ch, cancel, err := ps.Subscribe(ctx, "quest_events")
			require.NoError(t, err)
			defer cancel()

			require.NoError(t, ps.Publish(ctx, "quest_events", "hello"))
			select {
			case msg := <-ch:
				assert.Equal(t, "hello", msg.Payload)
			case <-time.After(time.Second):
				t.Fatal("no message")
			}
		})
	}
}
