package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRefreshTTL  = 7 * 24 * time.Hour
	defaultMaxAttempts = 5
	defaultLockWindow  = 30 * time.Minute
	defaultMaxSessions = 5
	maxUpdateAttempts  = 3
)

// errNoChange lets an update callback skip the write when nothing changed.
var errNoChange = errors.New("no change")

// Recorder receives one call per authentication outcome.
type Recorder interface {
	RecordAuthEvent(event, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthEvent(string, string) {}

type Result struct {
	Account Account
	Tokens  Tokens
}

type Service struct {
	store        Store
	issuer       *Issuer
	hasher       Hasher
	recorder     Recorder
	now          func() time.Time
	refreshTTL   time.Duration
	maxAttempts  int
	lockDuration time.Duration
	maxSessions  int
}

func NewService(store Store, issuer *Issuer, hasher Hasher) *Service {
	return &Service{
		store:        store,
		issuer:       issuer,
		hasher:       hasher,
		recorder:     nopRecorder{},
		now:          func() time.Time { return time.Now().UTC() },
		refreshTTL:   defaultRefreshTTL,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
		maxSessions:  defaultMaxSessions,
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration time.Duration, refreshTTL time.Duration, maxSessions int) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
	if maxSessions > 0 {
		s.maxSessions = maxSessions
	}
}

func (s *Service) WithRecorder(recorder Recorder) {
	if recorder != nil {
		s.recorder = recorder
	}
}

// WithClock replaces the time source of the service and its issuer.
func (s *Service) WithClock(now func() time.Time) {
	s.now = now
	s.issuer.withClock(now)
}

func (s *Service) Register(ctx context.Context, input RegisterInput, client ClientInfo) (Result, error) {
	if err := input.Validate(); err != nil {
		return Result{}, err
	}

	identity := NormalizeIdentity(input.Email)
	if _, err := s.store.FindByIdentity(ctx, identity); err == nil {
		s.recorder.RecordAuthEvent("register", "exists")
		return Result{}, ErrUserExists
	} else if !errors.Is(err, ErrAccountNotFound) {
		return Result{}, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return Result{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Result{}, fmt.Errorf("generate account id: %w", err)
	}
	tokens, err := s.issuer.Issue(id.String())
	if err != nil {
		return Result{}, err
	}
	session, err := s.newSession(tokens.RefreshToken, client)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	lastLogin := now
	account := Account{
		ID:          id.String(),
		Identity:    identity,
		Name:        strings.TrimSpace(input.Name),
		SecretHash:  hash,
		Role:        RoleUser,
		Active:      true,
		LastLoginAt: &lastLogin,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	account.addSession(session, s.maxSessions)

	created, err := s.store.Create(ctx, account)
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			s.recorder.RecordAuthEvent("register", "exists")
			return Result{}, ErrUserExists
		}
		return Result{}, err
	}

	s.recorder.RecordAuthEvent("register", "success")
	return Result{Account: created, Tokens: tokens}, nil
}

func (s *Service) Login(ctx context.Context, input LoginInput, client ClientInfo) (Result, error) {
	if err := input.Validate(); err != nil {
		return Result{}, err
	}

	now := s.now()
	account, err := s.store.FindByIdentity(ctx, input.Email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.hasher.Reject(input.Password)
			s.recorder.RecordAuthEvent("login", "invalid_credentials")
			return Result{}, ErrInvalidCredentials
		}
		return Result{}, err
	}

	if !account.Active {
		s.recorder.RecordAuthEvent("login", "deactivated")
		return Result{}, ErrAccountDeactivated
	}
	if account.IsLocked(now) {
		s.recorder.RecordAuthEvent("login", "locked")
		return Result{}, AccountLockedError{Until: *account.LockUntil, Now: now}
	}

	check, err := s.hasher.Check(account, input.Password, now)
	if err != nil {
		return Result{}, err
	}
	switch check {
	case CredentialLocked:
		s.recorder.RecordAuthEvent("login", "locked")
		return Result{}, AccountLockedError{Until: *account.LockUntil, Now: now}
	case CredentialMismatch:
		return Result{}, s.recordFailedAttempt(ctx, account.ID, now)
	}

	tokens, err := s.issuer.Issue(account.ID)
	if err != nil {
		return Result{}, err
	}
	session, err := s.newSession(tokens.RefreshToken, client)
	if err != nil {
		return Result{}, err
	}

	account, err = s.update(ctx, account.ID, func(a *Account) error {
		// The lock may have been set by a concurrent failed attempt after
		// the password was checked.
		if a.IsLocked(now) {
			return AccountLockedError{Until: *a.LockUntil, Now: now}
		}
		if !a.Active {
			return ErrAccountDeactivated
		}
		a.clearLockout()
		a.pruneExpired(now)
		a.addSession(session, s.maxSessions)
		lastLogin := now
		a.LastLoginAt = &lastLogin
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.recorder.RecordAuthEvent("login", "success")
	return Result{Account: account, Tokens: tokens}, nil
}

func (s *Service) recordFailedAttempt(ctx context.Context, accountID string, now time.Time) error {
	var attempts int
	var lockedUntil *time.Time

	_, err := s.update(ctx, accountID, func(a *Account) error {
		if a.IsLocked(now) {
			return AccountLockedError{Until: *a.LockUntil, Now: now}
		}
		a.FailedAttempts++
		attempts = a.FailedAttempts
		lockedUntil = nil
		if a.FailedAttempts >= s.maxAttempts {
			until := now.Add(s.lockDuration)
			a.LockUntil = &until
			lockedUntil = &until
		}
		return nil
	})
	if err != nil {
		return err
	}

	if lockedUntil != nil {
		s.recorder.RecordAuthEvent("login", "lockout")
		return AccountLockedError{Until: *lockedUntil, Now: now}
	}
	s.recorder.RecordAuthEvent("login", "invalid_credentials")
	return InvalidCredentialsError{AttemptsLeft: s.maxAttempts - attempts}
}

// Refresh rotates the presented refresh token: its session is removed and a
// new one is appended in the same write, so a token works at most once.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (Tokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Tokens{}, ErrRefreshTokenRequired
	}
	if !wellFormedRefreshToken(refreshToken) {
		s.recorder.RecordAuthEvent("refresh", "invalid")
		return Tokens{}, ErrInvalidRefreshToken
	}

	now := s.now()
	tokenHash := HashRefreshToken(refreshToken)
	account, err := s.store.FindBySessionToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.recorder.RecordAuthEvent("refresh", "invalid")
			return Tokens{}, ErrInvalidRefreshToken
		}
		return Tokens{}, err
	}
	if !account.Active {
		s.recorder.RecordAuthEvent("refresh", "invalid")
		return Tokens{}, ErrInvalidRefreshToken
	}
	if account.IsLocked(now) {
		s.recorder.RecordAuthEvent("refresh", "locked")
		return Tokens{}, AccountLockedError{Until: *account.LockUntil, Now: now}
	}

	tokens, err := s.issuer.Issue(account.ID)
	if err != nil {
		return Tokens{}, err
	}
	next, err := s.newSession(tokens.RefreshToken, client)
	if err != nil {
		return Tokens{}, err
	}

	var expired bool
	_, err = s.update(ctx, account.ID, func(a *Account) error {
		expired = false
		current, ok := a.sessionByHash(tokenHash)
		if !ok || !a.Active {
			return ErrInvalidRefreshToken
		}
		a.removeSessions(func(rs RefreshSession) bool { return rs.TokenHash == tokenHash })
		if current.Expired(now) {
			expired = true
			return nil
		}
		a.addSession(next, s.maxSessions)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) || errors.Is(err, ErrAccountNotFound) {
			s.recorder.RecordAuthEvent("refresh", "invalid")
			return Tokens{}, ErrInvalidRefreshToken
		}
		return Tokens{}, err
	}
	if expired {
		s.recorder.RecordAuthEvent("refresh", "expired")
		return Tokens{}, ErrInvalidRefreshToken
	}

	s.recorder.RecordAuthEvent("refresh", "success")
	return tokens, nil
}

// Logout removes the session holding refreshToken. Unknown or empty tokens
// are not an error.
func (s *Service) Logout(ctx context.Context, accountID, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		s.recorder.RecordAuthEvent("logout", "success")
		return nil
	}

	tokenHash := HashRefreshToken(refreshToken)
	_, err := s.update(ctx, accountID, func(a *Account) error {
		if a.removeSessions(func(rs RefreshSession) bool { return rs.TokenHash == tokenHash }) == 0 {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.recorder.RecordAuthEvent("logout", "success")
	return nil
}

func (s *Service) LogoutAll(ctx context.Context, accountID string) error {
	_, err := s.update(ctx, accountID, func(a *Account) error {
		if len(a.Sessions) == 0 {
			return errNoChange
		}
		a.Sessions = nil
		return nil
	})
	if err != nil {
		return err
	}

	s.recorder.RecordAuthEvent("logout_all", "success")
	return nil
}

// ChangePassword verifies the current secret, stores the new hash and drops
// every refresh session of the account.
func (s *Service) ChangePassword(ctx context.Context, accountID string, input PasswordChange) error {
	if err := input.Validate(); err != nil {
		return err
	}

	account, err := s.Account(ctx, accountID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Matches(account.SecretHash, input.CurrentPassword)
	if err != nil {
		return err
	}
	if !ok {
		s.recorder.RecordAuthEvent("change_password", "invalid_current")
		return ErrInvalidCurrentPassword
	}

	hash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return err
	}

	_, err = s.update(ctx, accountID, func(a *Account) error {
		if a.SecretHash != account.SecretHash {
			return ErrInvalidCurrentPassword
		}
		a.SecretHash = hash
		a.Sessions = nil
		return nil
	})
	if err != nil {
		return err
	}

	s.recorder.RecordAuthEvent("change_password", "success")
	return nil
}

func (s *Service) UpdateProfile(ctx context.Context, accountID string, input ProfileUpdate) (Account, error) {
	if err := input.Validate(); err != nil {
		return Account{}, err
	}

	return s.update(ctx, accountID, func(a *Account) error {
		if input.Name != nil {
			a.Name = strings.TrimSpace(*input.Name)
		}
		if input.Avatar != nil {
			a.Details.Avatar = strings.TrimSpace(*input.Avatar)
		}
		if input.Bio != nil {
			a.Details.Bio = strings.TrimSpace(*input.Bio)
		}
		if input.Phone != nil {
			a.Details.Phone = strings.TrimSpace(*input.Phone)
		}
		return nil
	})
}

func (s *Service) ListSessions(ctx context.Context, accountID string) ([]SessionView, error) {
	account, err := s.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return account.SessionViews(s.now()), nil
}

// RevokeSession removes one session by id. Unknown ids are not an error.
func (s *Service) RevokeSession(ctx context.Context, accountID, sessionID string) error {
	_, err := s.update(ctx, accountID, func(a *Account) error {
		if a.removeSessions(func(rs RefreshSession) bool { return rs.ID == sessionID }) == 0 {
			return errNoChange
		}
		return nil
	})
	return err
}

// Authenticate resolves an access token to an account that may act now.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Account, error) {
	if strings.TrimSpace(accessToken) == "" {
		return Account{}, ErrNoToken
	}
	accountID, err := s.issuer.VerifyAccess(accessToken)
	if err != nil {
		return Account{}, err
	}

	account, err := s.Account(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	if !account.Active {
		return Account{}, ErrAccountDeactivated
	}
	if now := s.now(); account.IsLocked(now) {
		return Account{}, AccountLockedError{Until: *account.LockUntil, Now: now}
	}
	return account, nil
}

func (s *Service) Account(ctx context.Context, accountID string) (Account, error) {
	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, ErrUserNotFound
		}
		return Account{}, err
	}
	return account, nil
}

// SetActive toggles the active flag. Deactivation also ends every session.
func (s *Service) SetActive(ctx context.Context, accountID string, active bool) (Account, error) {
	return s.update(ctx, accountID, func(a *Account) error {
		a.Active = active
		if !active {
			a.Sessions = nil
		}
		return nil
	})
}

// Unlock clears the failure counter and any lock, the administrative reset
// of the lockout state.
func (s *Service) Unlock(ctx context.Context, accountID string) (Account, error) {
	return s.update(ctx, accountID, func(a *Account) error {
		if a.FailedAttempts == 0 && a.LockUntil == nil {
			return errNoChange
		}
		a.clearLockout()
		return nil
	})
}

// BootstrapAdmin creates an administrator if the identity is not taken yet.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password, name string) error {
	email = NormalizeIdentity(email)
	password = strings.TrimSpace(password)
	name = strings.TrimSpace(name)

	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	if name == "" {
		name = "Administrator"
	}

	if _, err := s.store.FindByIdentity(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate account id: %w", err)
	}

	now := s.now()
	_, err = s.store.Create(ctx, Account{
		ID:         id.String(),
		Identity:   email,
		Name:       name,
		SecretHash: hash,
		Role:       RoleAdmin,
		Active:     true,
		Verified:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil && !errors.Is(err, ErrDuplicateIdentity) {
		return fmt.Errorf("create admin account: %w", err)
	}
	return nil
}

// SweepExpiredSessions prunes expired refresh sessions from up to limit
// accounts and returns how many sessions were removed.
func (s *Service) SweepExpiredSessions(ctx context.Context, limit int) (int, error) {
	sweeper, ok := s.store.(SessionSweeper)
	if !ok {
		return 0, nil
	}

	now := s.now()
	ids, err := sweeper.ExpiredSessionHolders(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		var n int
		_, err := s.update(ctx, id, func(a *Account) error {
			n = a.pruneExpired(now)
			if n == 0 {
				return errNoChange
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				continue
			}
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (s *Service) AccessTTL() time.Duration {
	return s.issuer.AccessTTL()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) newSession(refreshToken string, client ClientInfo) (RefreshSession, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return RefreshSession{}, fmt.Errorf("generate session id: %w", err)
	}
	userAgent := strings.TrimSpace(client.UserAgent)
	if userAgent == "" {
		userAgent = "Unknown"
	}
	now := s.now()
	return RefreshSession{
		ID:        id.String(),
		TokenHash: HashRefreshToken(refreshToken),
		UserAgent: userAgent,
		IPAddress: client.IPAddress,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}, nil
}

// update re-reads the account, applies fn and saves it with compare-and-swap,
// retrying on version conflicts.
func (s *Service) update(ctx context.Context, accountID string, fn func(*Account) error) (Account, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		account, err := s.store.FindByID(ctx, accountID)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return Account{}, ErrUserNotFound
			}
			return Account{}, err
		}

		if err := fn(&account); err != nil {
			if errors.Is(err, errNoChange) {
				return account, nil
			}
			return Account{}, err
		}
		account.UpdatedAt = s.now()

		err = s.store.Save(ctx, &account)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Account{}, err
		}
	}
	return Account{}, fmt.Errorf("update account %s: %w", accountID, ErrVersionConflict)
}
