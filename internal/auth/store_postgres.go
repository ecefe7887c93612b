package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// PostgresStore keeps each account as a JSONB document next to the columns
// needed for lookups and the version used for compare-and-swap.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Account, error) {
	return s.findOne(ctx, `SELECT document, version FROM accounts WHERE id = $1`, id)
}

func (s *PostgresStore) FindByIdentity(ctx context.Context, identity string) (Account, error) {
	return s.findOne(ctx, `SELECT document, version FROM accounts WHERE identity = $1`, NormalizeIdentity(identity))
}

func (s *PostgresStore) FindBySessionToken(ctx context.Context, tokenHash string) (Account, error) {
	return s.findOne(ctx, `
		SELECT document, version
		FROM accounts
		WHERE document->'sessions' @> jsonb_build_array(jsonb_build_object('tokenHash', $1::text))
		LIMIT 1
	`, tokenHash)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (Account, error) {
	var raw []byte
	var version int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&raw, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}

	account, err := decodeAccount(raw)
	if err != nil {
		return Account{}, err
	}
	account.Version = version
	return account, nil
}

func (s *PostgresStore) Create(ctx context.Context, account Account) (Account, error) {
	account.Identity = NormalizeIdentity(account.Identity)
	account.Version = 1
	if account.Sessions == nil {
		account.Sessions = []RefreshSession{}
	}

	payload, err := json.Marshal(account)
	if err != nil {
		return Account{}, fmt.Errorf("encode account document: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, identity, document, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, account.ID, account.Identity, payload, account.Version, account.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Account{}, ErrDuplicateIdentity
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}

	return account, nil
}

func (s *PostgresStore) Save(ctx context.Context, account *Account) error {
	next := *account
	next.Version = account.Version + 1
	if next.Sessions == nil {
		next.Sessions = []RefreshSession{}
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode account document: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET document = $2, version = $3, updated_at = $4
		WHERE id = $1 AND version = $5
	`, account.ID, payload, next.Version, time.Now().UTC(), account.Version)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, account.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check account: %w", err)
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrVersionConflict
	}

	account.Version = next.Version
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) ExpiredSessionHolders(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id
		FROM accounts a
		WHERE EXISTS (
			SELECT 1
			FROM jsonb_array_elements(
				CASE WHEN jsonb_typeof(a.document->'sessions') = 'array'
					THEN a.document->'sessions'
					ELSE '[]'::jsonb
				END
			) s
			WHERE (s->>'expiresAt')::timestamptz <= $1
		)
		ORDER BY a.id
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query expired session holders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session holder: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired session holders: %w", err)
	}

	return ids, nil
}
