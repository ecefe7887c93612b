package auth

import (
	"context"
	"net/http"
	"strings"
)

type accountContextKey struct{}

// Authenticator resolves an access token to an account.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (Account, error)
}

// Guard is the per-request authentication check.
type Guard struct {
	auth Authenticator
}

func NewGuard(auth Authenticator) *Guard {
	return &Guard{auth: auth}
}

// Require rejects the request unless it carries a valid bearer token for an
// active, unlocked account.
func (g *Guard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			WriteError(w, err)
			return
		}

		account, err := g.auth.Authenticate(r.Context(), token)
		if err != nil {
			WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

// Optional attaches the account when the token resolves and otherwise
// proceeds without one.
func (g *Guard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err == nil {
			if account, err := g.auth.Authenticate(r.Context(), token); err == nil {
				r = r.WithContext(WithAccount(r.Context(), account))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRoles must run after Require or Optional.
func RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, ok := AccountFromContext(r.Context())
			if !ok {
				WriteError(w, ErrAuthRequired)
				return
			}
			if _, ok := allowed[account.Role]; !ok {
				WriteError(w, ErrInsufficientPermissions)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithAccount(ctx context.Context, account Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, account)
}

func AccountFromContext(ctx context.Context) (Account, bool) {
	account, ok := ctx.Value(accountContextKey{}).(Account)
	return account, ok
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrNoToken
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrTokenMalformed
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}
