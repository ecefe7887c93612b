package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "test"), mr
}

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		store, _ := newRedisTestStore(t)
		return store
	})
}

func TestRedisStoreSessionKeysExpire(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisTestStore(t)

	account := testAccount("ttl@example.com")
	account.Sessions = []RefreshSession{testSession("ttl-token", time.Now().Add(time.Hour))}
	_, err := store.Create(ctx, account)
	require.NoError(t, err)

	key := store.sessionKey(HashRefreshToken("ttl-token"))
	assert.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), 50*time.Minute)

	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists(key))

	_, err = store.FindBySessionToken(ctx, HashRefreshToken("ttl-token"))
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisTestStore(t)

	account := testAccount("prefix@example.com")
	_, err := store.Create(ctx, account)
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:account:"+account.ID))
	id, err := mr.Get("test:identity:prefix@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)
}

func TestRedisStorePing(t *testing.T) {
	store, mr := newRedisTestStore(t)
	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}
