package auth

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const DefaultBcryptCost = 12

type CredentialResult int

const (
	CredentialMismatch CredentialResult = iota
	CredentialMatch
	CredentialLocked
)

func (r CredentialResult) String() string {
	switch r {
	case CredentialMatch:
		return "match"
	case CredentialLocked:
		return "locked"
	default:
		return "mismatch"
	}
}

type Hasher struct {
	cost int
	// decoy is compared against when there is no account to check, at the
	// same cost as real hashes.
	decoy []byte
}

func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	decoy, _ := bcrypt.GenerateFromPassword([]byte("decoy-secret-no-account"), cost)
	return Hasher{cost: cost, decoy: decoy}
}

func (h Hasher) Hash(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (h Hasher) Matches(hash, secret string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("compare password: %w", err)
}

// Reject runs a full comparison against the decoy hash so a login for an
// unknown identity takes as long as a wrong password.
func (h Hasher) Reject(secret string) {
	if len(h.decoy) == 0 {
		return
	}
	_ = bcrypt.CompareHashAndPassword(h.decoy, []byte(secret))
}

// Check compares secret against the account's hash. A locked account is
// reported as CredentialLocked without running the comparison.
func (h Hasher) Check(account Account, secret string, now time.Time) (CredentialResult, error) {
	if account.IsLocked(now) {
		return CredentialLocked, nil
	}
	ok, err := h.Matches(account.SecretHash, secret)
	if err != nil {
		return CredentialMismatch, err
	}
	if !ok {
		return CredentialMismatch, nil
	}
	return CredentialMatch, nil
}
