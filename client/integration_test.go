package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"auth-session-core/internal/auth"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newAuthServer(t *testing.T) (*httptest.Server, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	svc := auth.NewService(
		auth.NewMemoryStore(),
		auth.NewIssuer("integration-secret-with-32-bytes!!", 15*time.Minute),
		auth.NewHasher(bcrypt.MinCost),
	)
	svc.WithClock(clock.Now)

	mux := http.NewServeMux()
	auth.NewHandler(svc).Routes(mux, "/api", auth.NewGuard(svc), nil)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, clock
}

func TestClientAgainstAuthHandler(t *testing.T) {
	server, clock := newAuthServer(t)
	ctx := context.Background()
	c := New(server.URL + "/api")

	registered, err := c.Register(ctx, RegisterRequest{Name: "Alice", Email: "alice@x.com", Password: "Secret1!"})
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", registered.User.Email)
	first := c.Tokens()
	require.NotEmpty(t, first.AccessToken)

	clock.Advance(16 * time.Minute)

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := c.Me(ctx)
			assert.NoError(t, err)
			assert.Equal(t, registered.User.ID, user.ID)
		}()
	}
	wg.Wait()

	rotated := c.Tokens()
	assert.NotEqual(t, first.RefreshToken, rotated.RefreshToken)

	sessions, err := c.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	bio := "hello"
	user, err := c.UpdateProfile(ctx, ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "hello", user.Profile.Bio)

	require.NoError(t, c.ChangePassword(ctx, "Secret1!", "NewSecret1!"))
	assert.Equal(t, TokenPair{}, c.Tokens())

	_, err = c.Login(ctx, "alice@x.com", "Secret1!")
	assert.True(t, IsCode(err, "INVALID_CREDENTIALS"))

	_, err = c.Login(ctx, "alice@x.com", "NewSecret1!")
	require.NoError(t, err)
	require.NoError(t, c.LogoutAll(ctx))
	assert.Equal(t, TokenPair{}, c.Tokens())
}

func TestTeardownWithExpiredAccessEndsCurrentSession(t *testing.T) {
	server, clock := newAuthServer(t)
	ctx := context.Background()

	first := New(server.URL + "/api")
	_, err := first.Register(ctx, RegisterRequest{Name: "Alice", Email: "alice@x.com", Password: "Secret1!"})
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)

	second := New(server.URL + "/api")
	_, err = second.Login(ctx, "alice@x.com", "Secret1!")
	require.NoError(t, err)
	sessions, err := second.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	require.NoError(t, first.Logout(ctx))
	assert.Equal(t, TokenPair{}, first.Tokens())

	sessions, err = second.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	clock.Advance(16 * time.Minute)
	require.NoError(t, second.LogoutAll(ctx))
	assert.Equal(t, TokenPair{}, second.Tokens())

	third := New(server.URL + "/api")
	_, err = third.Login(ctx, "alice@x.com", "Secret1!")
	require.NoError(t, err)
	sessions, err = third.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
