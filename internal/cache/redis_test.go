package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/microanalysis-bot/internal/config"
	"github.com/magabrotheeeer/microanalysis-bot/internal/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := config.RedisConnection{
		AddressRedis: mr.Addr(),
		DialTimeout:  time.Second,
		TimeoutRedis: time.Second,
	}

	cache, err := InitServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestSetAndGet(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()
	started := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	expected := models.SubscriptionRecord{UserID: 1, TrialStartedAt: &started}
	require.NoError(t, cache.Set(ctx, "subscription:1", expected, time.Minute))

	var actual models.SubscriptionRecord
	found, err := cache.Get(ctx, "subscription:1", &actual)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, expected.UserID, actual.UserID)
	require.NotNil(t, actual.TrialStartedAt)
	assert.True(t, started.Equal(*actual.TrialStartedAt))
	assert.Nil(t, actual.PremiumSince)
}

func TestSetAppliesTTL(t *testing.T) {
	cache, mr := setupTestCache(t)

	require.NoError(t, cache.Set(context.Background(), "ttl", "value", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("ttl"))

	mr.FastForward(2 * time.Minute)
	var out string
	found, err := cache.Get(context.Background(), "ttl", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetNotFound(t *testing.T) {
	cache, _ := setupTestCache(t)

	var out models.SubscriptionRecord
	found, err := cache.Get(context.Background(), "no_such_key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidate(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", "value", time.Minute))
	require.NoError(t, cache.Invalidate(ctx, "key"))

	var out string
	found, err := cache.Get(ctx, "key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetInvalidJSON(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Db.Set(ctx, "bad", []byte("not-json"), time.Minute).Err())

	var out models.SubscriptionRecord
	found, err := cache.Get(ctx, "bad", &out)
	assert.False(t, found)
	assert.Error(t, err)
}

func TestInitServerInvalidAddr(t *testing.T) {
	cfg := config.RedisConnection{
		AddressRedis: "127.0.0.1:1",
		DialTimeout:  200 * time.Millisecond,
	}

	cache, err := InitServer(context.Background(), cfg)
	assert.Nil(t, cache)
	assert.Error(t, err)
}
