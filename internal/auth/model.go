package auth

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// Account is the persisted credential record. It is never written to a
// client as-is; use Profile for external representations.
type Account struct {
	ID             string           `json:"id" bson:"_id"`
	Identity       string           `json:"identity" bson:"identity"`
	Name           string           `json:"name" bson:"name"`
	SecretHash     string           `json:"secretHash" bson:"secretHash"`
	Role           Role             `json:"role" bson:"role"`
	Active         bool             `json:"active" bson:"active"`
	Verified       bool             `json:"verified" bson:"verified"`
	FailedAttempts int              `json:"failedAttempts" bson:"failedAttempts"`
	LockUntil      *time.Time       `json:"lockUntil,omitempty" bson:"lockUntil,omitempty"`
	Sessions       []RefreshSession `json:"sessions" bson:"sessions"`
	Details        ProfileDetails   `json:"details" bson:"details"`
	LastLoginAt    *time.Time       `json:"lastLoginAt,omitempty" bson:"lastLoginAt,omitempty"`
	CreatedAt      time.Time        `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt" bson:"updatedAt"`
	Version        int64            `json:"version" bson:"version"`
}

type ProfileDetails struct {
	Avatar string `json:"avatar,omitempty" bson:"avatar,omitempty"`
	Bio    string `json:"bio,omitempty" bson:"bio,omitempty"`
	Phone  string `json:"phone,omitempty" bson:"phone,omitempty"`
}

// RefreshSession is one device-bound refresh token. Only the SHA-256 hash of
// the token value is kept.
type RefreshSession struct {
	ID        string    `json:"id" bson:"id"`
	TokenHash string    `json:"tokenHash" bson:"tokenHash"`
	UserAgent string    `json:"userAgent" bson:"userAgent"`
	IPAddress string    `json:"ipAddress" bson:"ipAddress"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt" bson:"expiresAt"`
}

func (s RefreshSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type ClientInfo struct {
	UserAgent string
	IPAddress string
}

// Tokens is the pair handed to a client on login, registration and refresh.
// ExpiresIn is the access token lifetime in milliseconds.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type Profile struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Role      Role           `json:"role"`
	Verified  bool           `json:"isVerified"`
	Active    bool           `json:"isActive"`
	LastLogin *time.Time     `json:"lastLogin"`
	Details   ProfileDetails `json:"profile"`
	CreatedAt time.Time      `json:"createdAt"`
}

type SessionView struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"userAgent"`
	IPAddress string    `json:"ipAddress"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsLocked is derived from LockUntil; there is no stored flag.
func (a Account) IsLocked(now time.Time) bool {
	return a.LockUntil != nil && a.LockUntil.After(now)
}

func (a Account) Profile() Profile {
	return Profile{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Identity,
		Role:      a.Role,
		Verified:  a.Verified,
		Active:    a.Active,
		LastLogin: a.LastLoginAt,
		Details:   a.Details,
		CreatedAt: a.CreatedAt,
	}
}

func (a Account) SessionViews(now time.Time) []SessionView {
	views := make([]SessionView, 0, len(a.Sessions))
	for _, s := range a.Sessions {
		if s.Expired(now) {
			continue
		}
		views = append(views, SessionView{
			ID:        s.ID,
			UserAgent: s.UserAgent,
			IPAddress: s.IPAddress,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
		})
	}
	return views
}

// addSession appends s and evicts the oldest sessions beyond limit.
func (a *Account) addSession(s RefreshSession, limit int) {
	a.Sessions = append(a.Sessions, s)
	if limit > 0 && len(a.Sessions) > limit {
		a.Sessions = append([]RefreshSession(nil), a.Sessions[len(a.Sessions)-limit:]...)
	}
}

func (a *Account) sessionByHash(tokenHash string) (RefreshSession, bool) {
	for _, s := range a.Sessions {
		if s.TokenHash == tokenHash {
			return s, true
		}
	}
	return RefreshSession{}, false
}

// removeSessions drops every session for which drop returns true and reports how
// many were removed.
func (a *Account) removeSessions(drop func(RefreshSession) bool) int {
	kept := a.Sessions[:0:0]
	for _, s := range a.Sessions {
		if !drop(s) {
			kept = append(kept, s)
		}
	}
	removed := len(a.Sessions) - len(kept)
	a.Sessions = kept
	return removed
}

func (a *Account) pruneExpired(now time.Time) int {
	return a.removeSessions(func(s RefreshSession) bool { return s.Expired(now) })
}

func (a *Account) clearLockout() {
	a.FailedAttempts = 0
	a.LockUntil = nil
}

func (a Account) clone() Account {
	out := a
	if a.Sessions != nil {
		out.Sessions = append([]RefreshSession(nil), a.Sessions...)
	}
	if a.LockUntil != nil {
		v := *a.LockUntil
		out.LockUntil = &v
	}
	if a.LastLoginAt != nil {
		v := *a.LastLoginAt
		out.LastLoginAt = &v
	}
	return out
}

func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
