package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/booth-checkin/internal/models"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

func newCacheRepo(t *testing.T) (*CacheRepository, *miniredis.Miniredis) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCacheRepository(client, "checkin", nil), srv
}

func TestCacheRepositorySetGet(t *testing.T) {
	repo, srv := newCacheRepo(t)
	ctx := context.Background()

	snapshot := models.IdentifierSnapshot{Identifiers: []string{"ab12345"}, GeneratedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, repo.Set(ctx, "identifiers", snapshot, time.Minute))
	assert.True(t, srv.Exists("checkin:identifiers"))

	var got models.IdentifierSnapshot
	require.NoError(t, repo.Get(ctx, "identifiers", &got))
	assert.Equal(t, snapshot.Identifiers, got.Identifiers)

	srv.FastForward(2 * time.Minute)
	err := repo.Get(ctx, "identifiers", &got)
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
}

func TestCacheRepositoryCorruptEntryIsMiss(t *testing.T) {
	repo, srv := newCacheRepo(t)
	require.NoError(t, srv.Set("checkin:identifiers", "{not json"))

	var got models.IdentifierSnapshot
	err := repo.Get(context.Background(), "identifiers", &got)
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
	assert.False(t, srv.Exists("checkin:identifiers"))
}

func TestCacheRepositoryDelete(t *testing.T) {
	repo, srv := newCacheRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, "identifiers", []string{"x"}, time.Minute))
	require.NoError(t, repo.Delete(ctx, "identifiers"))
	assert.False(t, srv.Exists("checkin:identifiers"))
}

func TestCacheRepositoryNilClient(t *testing.T) {
	repo := NewCacheRepository(nil, "", nil)
	var dest []string
	assert.ErrorIs(t, repo.Get(context.Background(), "k", &dest), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(context.Background(), "k", dest, time.Second))
	assert.NoError(t, repo.Close())
}
