package auth

import (
	"context"
	"time"
)

// Store is the credential store: one document per account, replaced whole on
// every write. Save is a compare-and-swap on Version and bumps it on success.
type Store interface {
	FindByID(ctx context.Context, id string) (Account, error)
	FindByIdentity(ctx context.Context, identity string) (Account, error)
	FindBySessionToken(ctx context.Context, tokenHash string) (Account, error)
	Create(ctx context.Context, account Account) (Account, error)
	Save(ctx context.Context, account *Account) error
	Ping(ctx context.Context) error
}

// SessionSweeper is implemented by stores that can enumerate accounts
// holding expired refresh sessions.
type SessionSweeper interface {
	ExpiredSessionHolders(ctx context.Context, now time.Time, limit int) ([]string, error)
}
