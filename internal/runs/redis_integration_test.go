//go:build integration

package runs

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, time.Minute)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	adult := true
	require.NoError(t, store.Put(ctx, Status{RunID: "r1", UserID: "u1", State: model.StateUploading, Progress: 70, IsAdult: &adult}))
	require.NoError(t, store.Put(ctx, Status{RunID: "r1", UserID: "u1", State: model.StateUploading, Progress: 30, IsAdult: &adult}))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 70, got.Progress)
	require.NotNil(t, got.IsAdult)
	assert.True(t, *got.IsAdult)

	ttl, err := client.PTTL(ctx, keyPrefix+"r1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
