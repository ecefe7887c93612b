package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]Account
	byIdentity map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]Account),
		byIdentity: make(map[string]string),
	}
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.byID[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account.clone(), nil
}

func (m *MemoryStore) FindByIdentity(ctx context.Context, identity string) (Account, error) {
	m.mu.RLock()
	id, ok := m.byIdentity[NormalizeIdentity(identity)]
	m.mu.RUnlock()
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return m.FindByID(ctx, id)
}

func (m *MemoryStore) FindBySessionToken(_ context.Context, tokenHash string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, account := range m.byID {
		if _, ok := account.sessionByHash(tokenHash); ok {
			return account.clone(), nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (m *MemoryStore) Create(_ context.Context, account Account) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NormalizeIdentity(account.Identity)
	if _, exists := m.byIdentity[key]; exists {
		return Account{}, ErrDuplicateIdentity
	}
	account.Identity = key
	account.Version = 1
	m.byID[account.ID] = account.clone()
	m.byIdentity[key] = account.ID
	return account, nil
}

func (m *MemoryStore) Save(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.byID[account.ID]
	if !ok {
		return ErrAccountNotFound
	}
	if current.Version != account.Version {
		return ErrVersionConflict
	}
	account.Version++
	m.byID[account.ID] = account.clone()
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) ExpiredSessionHolders(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, account := range m.byID {
		for _, s := range account.Sessions {
			if s.Expired(now) {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
