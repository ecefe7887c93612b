package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	refreshTokenBytes = 48
	accessTokenType   = "access"
)

type accessClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer signs access tokens and mints opaque refresh tokens. Access tokens
// are verified by signature and expiry only.
type Issuer struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

func NewIssuer(secret string, accessTTL time.Duration) *Issuer {
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	return &Issuer{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (i *Issuer) withClock(now func() time.Time) {
	i.now = now
}

func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// Issue returns a signed access token and a fresh refresh token for accountID.
func (i *Issuer) Issue(accountID string) (Tokens, error) {
	access, err := i.SignAccess(accountID)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := NewRefreshToken()
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    i.accessTTL.Milliseconds(),
	}, nil
}

func (i *Issuer) SignAccess(accountID string) (string, error) {
	now := i.now()
	claims := accessClaims{
		Type: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return encoded, nil
}

// VerifyAccess returns the account id encoded in token. It fails with
// ErrTokenExpired once the expiry has passed and ErrTokenMalformed for any
// signature or structure problem.
func (i *Issuer) VerifyAccess(token string) (string, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenMalformed
	}
	if claims.Type != accessTokenType || claims.Subject == "" {
		return "", ErrTokenMalformed
	}
	return claims.Subject, nil
}

func NewRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// wellFormedRefreshToken rejects values that could never have been minted by
// NewRefreshToken before any store lookup happens.
func wellFormedRefreshToken(token string) bool {
	if len(token) != refreshTokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
