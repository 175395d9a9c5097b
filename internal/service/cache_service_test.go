package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/repository"
)

func TestCacheServiceRoundTripAndInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	metrics := NewMetricsService()
	cache := NewCacheService(repository.NewCacheRepository(client, "appt"), metrics, time.Minute, nil, true)
	ctx := context.Background()

	var out []string
	hit, err := cache.Get(ctx, slotsKey("t1", "2024-05-01"), &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, slotsKey("t1", "2024-05-01"), []string{"09:00"}, 0))
	require.NoError(t, cache.Set(ctx, teacherListKeyPrefix+"a", []string{"x"}, time.Second))
	require.NoError(t, cache.Set(ctx, teacherListKeyPrefix+"b", []string{"y"}, time.Second))
	assert.Equal(t, time.Minute, mr.TTL("appt:"+slotsKey("t1", "2024-05-01")), "zero ttl falls back to the default")

	hit, err = cache.Get(ctx, slotsKey("t1", "2024-05-01"), &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"09:00"}, out)

	require.NoError(t, cache.Invalidate(ctx, teacherListKeyPrefix+"*"))
	assert.False(t, mr.Exists("appt:"+teacherListKeyPrefix+"a"))
	assert.False(t, mr.Exists("appt:"+teacherListKeyPrefix+"b"))
	assert.True(t, mr.Exists("appt:"+slotsKey("t1", "2024-05-01")))

	require.NoError(t, cache.Delete(ctx, slotsKey("t1", "2024-05-01")))
	assert.False(t, mr.Exists("appt:"+slotsKey("t1", "2024-05-01")))

	assert.InDelta(t, 0.5, metrics.Snapshot().CacheHitRatio, 1e-9)
}

func TestCacheServiceBackendFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCacheService(repository.NewCacheRepository(client, "appt"), nil, time.Minute, nil, true)
	mr.SetError("ERR injected failure")

	var out []string
	hit, err := cache.Get(context.Background(), "k", &out)
	assert.False(t, hit)
	assert.Error(t, err)
	assert.Error(t, cache.Set(context.Background(), "k", "v", time.Second))
}

func TestCacheServiceDisabled(t *testing.T) {
	var nilCache *CacheService
	assert.False(t, nilCache.Enabled())
	hit, err := nilCache.Get(context.Background(), "k", &struct{}{})
	assert.False(t, hit)
	assert.NoError(t, err)
	assert.NoError(t, nilCache.Set(context.Background(), "k", 1, 0))
	assert.NoError(t, nilCache.Invalidate(context.Background(), "*"))

	off := NewCacheService(repository.NewCacheRepository(nil, ""), nil, 0, nil, false)
	assert.False(t, off.Enabled())
	assert.NoError(t, off.Delete(context.Background(), "k"))
	assert.NoError(t, off.Set(context.Background(), "k", 1, 0))
}
