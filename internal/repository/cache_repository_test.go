package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/littledevelop/student-teacher-appointment-backend/pkg/errors"
)

func newCacheRepo(t *testing.T) (*CacheRepository, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheRepository(client, "test"), srv
}

type cachedSlot struct {
	ID    string `json:"id"`
	Start string `json:"start"`
}

func TestCacheSetGet(t *testing.T) {
	repo, srv := newCacheRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "slots:t1:2024-05-01", []cachedSlot{{ID: "a", Start: "09:00"}}, time.Minute))
	assert.True(t, srv.Exists("test:slots:t1:2024-05-01"))
	assert.Equal(t, time.Minute, srv.TTL("test:slots:t1:2024-05-01"))

	var got []cachedSlot
	require.NoError(t, repo.Get(ctx, "slots:t1:2024-05-01", &got))
	assert.Equal(t, []cachedSlot{{ID: "a", Start: "09:00"}}, got)
}

func TestCacheMiss(t *testing.T) {
	repo, _ := newCacheRepo(t)

	var got []cachedSlot
	err := repo.Get(context.Background(), "absent", &got)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))
}

func TestCacheDeleteByPattern(t *testing.T) {
	repo, srv := newCacheRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "teachers:list:", 1, 0))
	require.NoError(t, repo.Set(ctx, "teachers:list:math", 1, 0))
	require.NoError(t, repo.Set(ctx, "slots:t1:2024-05-01", 1, 0))

	require.NoError(t, repo.DeleteByPattern(ctx, "teachers:*"))

	assert.False(t, srv.Exists("test:teachers:list:"))
	assert.False(t, srv.Exists("test:teachers:list:math"))
	assert.True(t, srv.Exists("test:slots:t1:2024-05-01"))

	require.NoError(t, repo.Delete(ctx, "slots:t1:2024-05-01"))
	assert.False(t, srv.Exists("test:slots:t1:2024-05-01"))
}

func TestCacheDisabled(t *testing.T) {
	repo := NewCacheRepository(nil, "")
	ctx := context.Background()

	assert.NoError(t, repo.Set(ctx, "k", 1, time.Minute))
	assert.ErrorIs(t, repo.Get(ctx, "k", new(int)), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.DeleteByPattern(ctx, "*"))
	assert.NoError(t, repo.Ping(ctx))
}
