package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "auth"

// RedisStore keeps one JSON document per account plus two index keys:
// identity -> id and refresh token hash -> id. Writes run under WATCH on the
// document key so a concurrent writer aborts the transaction.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) accountKey(id string) string {
	return s.prefix + ":account:" + id
}

func (s *RedisStore) identityKey(identity string) string {
	return s.prefix + ":identity:" + identity
}

func (s *RedisStore) sessionKey(tokenHash string) string {
	return s.prefix + ":session:" + tokenHash
}

func (s *RedisStore) FindByID(ctx context.Context, id string) (Account, error) {
	raw, err := s.rdb.Get(ctx, s.accountKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return decodeAccount(raw)
}

func (s *RedisStore) FindByIdentity(ctx context.Context, identity string) (Account, error) {
	return s.findByIndex(ctx, s.identityKey(NormalizeIdentity(identity)))
}

func (s *RedisStore) FindBySessionToken(ctx context.Context, tokenHash string) (Account, error) {
	account, err := s.findByIndex(ctx, s.sessionKey(tokenHash))
	if err != nil {
		return Account{}, err
	}
	if _, ok := account.sessionByHash(tokenHash); !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (s *RedisStore) findByIndex(ctx context.Context, key string) (Account, error) {
	id, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("get index %s: %w", key, err)
	}
	return s.FindByID(ctx, id)
}

func (s *RedisStore) Create(ctx context.Context, account Account) (Account, error) {
	account.Identity = NormalizeIdentity(account.Identity)
	account.Version = 1

	payload, err := json.Marshal(account)
	if err != nil {
		return Account{}, fmt.Errorf("encode account document: %w", err)
	}

	claimed, err := s.rdb.SetNX(ctx, s.identityKey(account.Identity), account.ID, 0).Result()
	if err != nil {
		return Account{}, fmt.Errorf("claim identity: %w", err)
	}
	if !claimed {
		return Account{}, ErrDuplicateIdentity
	}

	now := time.Now().UTC()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.accountKey(account.ID), payload, 0)
		for _, session := range account.Sessions {
			if ttl := session.ExpiresAt.Sub(now); ttl > 0 {
				pipe.Set(ctx, s.sessionKey(session.TokenHash), account.ID, ttl)
			}
		}
		return nil
	})
	if err != nil {
		_ = s.rdb.Del(ctx, s.identityKey(account.Identity)).Err()
		return Account{}, fmt.Errorf("write account: %w", err)
	}

	return account, nil
}

func (s *RedisStore) Save(ctx context.Context, account *Account) error {
	key := s.accountKey(account.ID)
	var saved int64

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("get account: %w", err)
		}
		current, err := decodeAccount(raw)
		if err != nil {
			return err
		}
		if current.Version != account.Version {
			return ErrVersionConflict
		}

		next := *account
		next.Version = account.Version + 1
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode account document: %w", err)
		}

		keep := make(map[string]struct{}, len(next.Sessions))
		for _, session := range next.Sessions {
			keep[session.TokenHash] = struct{}{}
		}

		now := time.Now().UTC()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			for _, old := range current.Sessions {
				if _, ok := keep[old.TokenHash]; !ok {
					pipe.Del(ctx, s.sessionKey(old.TokenHash))
				}
			}
			for _, session := range next.Sessions {
				if ttl := session.ExpiresAt.Sub(now); ttl > 0 {
					pipe.Set(ctx, s.sessionKey(session.TokenHash), next.ID, ttl)
				} else {
					pipe.Del(ctx, s.sessionKey(session.TokenHash))
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		saved = next.Version
		return nil
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return ErrVersionConflict
		}
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrAccountNotFound) {
			return err
		}
		return fmt.Errorf("save account: %w", err)
	}

	account.Version = saved
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) ExpiredSessionHolders(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, s.accountKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("get account: %w", err)
		}
		account, err := decodeAccount(raw)
		if err != nil {
			return nil, err
		}
		for _, session := range account.Sessions {
			if session.Expired(now) {
				ids = append(ids, account.ID)
				break
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan accounts: %w", err)
	}

	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func decodeAccount(raw []byte) (Account, error) {
	var account Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return Account{}, fmt.Errorf("decode account document: %w", err)
	}
	return account, nil
}
