package client

import "sync"

// TokenPair is the token payload issued on login, registration and refresh.
// ExpiresIn is the access token lifetime in milliseconds.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// TokenStore holds the current pair. Implementations must be safe for
// concurrent use.
type TokenStore interface {
	Load() TokenPair
	Save(TokenPair)
	Clear()
}

type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens TokenPair
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Load() TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

func (s *MemoryTokenStore) Save(tokens TokenPair) {
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
}

func (s *MemoryTokenStore) Clear() {
	s.mu.Lock()
	s.tokens = TokenPair{}
	s.mu.Unlock()
}
