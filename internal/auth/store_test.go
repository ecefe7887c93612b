package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every Store adapter shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		store := newStore(t)
		account := testAccount("Alice@Example.com")
		account.Sessions = []RefreshSession{testSession("token-a", time.Now().Add(time.Hour))}

		created, err := store.Create(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)
		assert.Equal(t, "alice@example.com", created.Identity)

		byID, err := store.FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, account.Name, byID.Name)
		assert.Len(t, byID.Sessions, 1)

		byIdentity, err := store.FindByIdentity(ctx, "  ALICE@example.COM ")
		require.NoError(t, err)
		assert.Equal(t, account.ID, byIdentity.ID)

		bySession, err := store.FindBySessionToken(ctx, HashRefreshToken("token-a"))
		require.NoError(t, err)
		assert.Equal(t, account.ID, bySession.ID)
	})

	t.Run("missing account", func(t *testing.T) {
		store := newStore(t)

		_, err := store.FindByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrAccountNotFound)
		_, err = store.FindByIdentity(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrAccountNotFound)
		_, err = store.FindBySessionToken(ctx, HashRefreshToken("unknown"))
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("duplicate identity", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Create(ctx, testAccount("dup@example.com"))
		require.NoError(t, err)

		_, err = store.Create(ctx, testAccount("DUP@example.com"))
		assert.ErrorIs(t, err, ErrDuplicateIdentity)
	})

	t.Run("save bumps version and rejects stale writes", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, testAccount("cas@example.com"))
		require.NoError(t, err)

		first, err := store.FindByID(ctx, created.ID)
		require.NoError(t, err)
		stale, err := store.FindByID(ctx, created.ID)
		require.NoError(t, err)

		first.Name = "First Writer"
		require.NoError(t, store.Save(ctx, &first))
		assert.Equal(t, int64(2), first.Version)

		stale.Name = "Second Writer"
		assert.ErrorIs(t, store.Save(ctx, &stale), ErrVersionConflict)

		current, err := store.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "First Writer", current.Name)
	})

	t.Run("save replaces session index", func(t *testing.T) {
		store := newStore(t)
		account := testAccount("rotate@example.com")
		account.Sessions = []RefreshSession{testSession("old-token", time.Now().Add(time.Hour))}
		created, err := store.Create(ctx, account)
		require.NoError(t, err)

		created.Sessions = []RefreshSession{testSession("new-token", time.Now().Add(time.Hour))}
		require.NoError(t, store.Save(ctx, &created))

		_, err = store.FindBySessionToken(ctx, HashRefreshToken("old-token"))
		assert.ErrorIs(t, err, ErrAccountNotFound)
		found, err := store.FindBySessionToken(ctx, HashRefreshToken("new-token"))
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
	})

	t.Run("save unknown account", func(t *testing.T) {
		store := newStore(t)
		account := testAccount("ghost@example.com")
		account.Version = 1
		assert.ErrorIs(t, store.Save(ctx, &account), ErrAccountNotFound)
	})

	t.Run("concurrent saves on one version admit one writer", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, testAccount("race@example.com"))
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			snapshot, err := store.FindByID(ctx, created.ID)
			require.NoError(t, err)
			wg.Add(1)
			go func(a Account) {
				defer wg.Done()
				results <- store.Save(ctx, &a)
			}(snapshot)
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, ErrVersionConflict)
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("expired session holders", func(t *testing.T) {
		store := newStore(t)
		sweeper, ok := store.(SessionSweeper)
		require.True(t, ok)

		now := time.Now().UTC()
		expired := testAccount("expired@example.com")
		expired.Sessions = []RefreshSession{testSession("stale", now.Add(-time.Minute))}
		fresh := testAccount("fresh@example.com")
		fresh.Sessions = []RefreshSession{testSession("live", now.Add(time.Hour))}
		_, err := store.Create(ctx, expired)
		require.NoError(t, err)
		_, err = store.Create(ctx, fresh)
		require.NoError(t, err)

		ids, err := sweeper.ExpiredSessionHolders(ctx, now, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{expired.ID}, ids)
	})
}

func testAccount(identity string) Account {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return Account{
		ID:         uuid.NewString(),
		Identity:   identity,
		Name:       "Test User",
		SecretHash: "hash",
		Role:       RoleUser,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func testSession(token string, expiresAt time.Time) RefreshSession {
	return RefreshSession{
		ID:        uuid.NewString(),
		TokenHash: HashRefreshToken(token),
		UserAgent: "test",
		IPAddress: "127.0.0.1",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		ExpiresAt: expiresAt.UTC().Truncate(time.Millisecond),
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	account := testAccount("copy@example.com")
	account.Sessions = []RefreshSession{testSession("t", time.Now().Add(time.Hour))}
	_, err := store.Create(ctx, account)
	require.NoError(t, err)

	loaded, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	loaded.Sessions[0].UserAgent = "mutated"

	again, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "test", again.Sessions[0].UserAgent)
}
