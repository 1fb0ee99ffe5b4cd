package accounts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LoginStore is what the gate needs from persistence
type LoginStore interface {
	AccountFinder
	TrackLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// LoginResult is returned on a successful login
type LoginResult struct {
	Tokens  TokenPair
	Account *Account
	Profile Profile
}

// Authenticator is the login gate
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
	Verify(ctx context.Context, token string) (AuthClaims, error)
	Logout(ctx context.Context, refreshToken string) error
	AccountFromClaims(ctx context.Context, claims AuthClaims) (*Account, error)
}

// Auther implements Authenticator
type Auther struct {
	store        LoginStore
	passwords    PasswordAuthenticator
	tokens       TokenService
	denylist     TokenDenylist
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

var _ Authenticator = (*Auther)(nil)

// AutherOption customizes the authenticator
type AutherOption func(*Auther)

func WithAutherPasswords(p PasswordAuthenticator) AutherOption {
	return func(a *Auther) {
		if p != nil {
			a.passwords = p
		}
	}
}

func WithAutherDenylist(d TokenDenylist) AutherOption {
	return func(a *Auther) {
		if d != nil {
			a.denylist = d
		}
	}
}

func WithAutherActivitySink(sink ActivitySink) AutherOption {
	return func(a *Auther) {
		a.activitySink = normalizeActivitySink(sink)
	}
}

func WithAutherLogger(logger Logger) AutherOption {
	return func(a *Auther) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithAutherClock(clock func() time.Time) AutherOption {
	return func(a *Auther) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(store LoginStore, tokens TokenService, opts ...AutherOption) *Auther {
	a := &Auther{
		store:        store,
		passwords:    BcryptAuthenticator{},
		tokens:       tokens,
		denylist:     noopDenylist{},
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokens
}

// CheckLoginAllowed applies the status gate to an account whose credentials
// were already verified.
func CheckLoginAllowed(account *Account) error {
	if account == nil {
		return ErrInvalidCredentials
	}
	if !account.IsActive {
		return ErrAccountInactive
	}

	account.EnsureStatus()
	switch account.Status {
	case StatusApproved:
		return nil
	case StatusPending:
		return ErrAccountPending
	case StatusRejected:
		return NewAccountRejectedError(account.RejectionReason)
	default:
		return ErrAccountNotApproved
	}
}

func (s *Auther) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)

	account, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			s.logger.Error("login lookup failed", "error", err)
			return nil, err
		}
		// keep timing close to a real comparison
		_ = s.passwords.ComparePasswordAndHash(password, s.dummy())
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"email": email,
			"error": ErrInvalidCredentials.Error(),
		})
		return nil, ErrInvalidCredentials
	}

	if err := s.passwords.ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, AccountActor(account), account.ID.String(), map[string]any{
			"email": email,
			"error": ErrInvalidCredentials.Error(),
		})
		return nil, ErrInvalidCredentials
	}

	if err := CheckLoginAllowed(account); err != nil {
		s.logger.Warn("login blocked by account status", "email", email, "status", account.Status, "active", account.IsActive)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, AccountActor(account), account.ID.String(), map[string]any{
			"email":  email,
			"status": account.Status,
			"error":  err.Error(),
		})
		return nil, err
	}

	pair, err := s.tokens.Issue(account)
	if err != nil {
		s.logger.Error("login failed to issue tokens", "error", err)
		return nil, err
	}

	now := s.now()
	if err := s.store.TrackLogin(ctx, account.ID, now); err != nil {
		s.logger.Warn("failed to track login", "account_id", account.ID, "error", err)
	} else {
		account.LastLoginAt = &now
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, AccountActor(account), account.ID.String(), map[string]any{
		"email": email,
	})

	return &LoginResult{
		Tokens:  pair,
		Account: account,
		Profile: LoginProfile(account),
	}, nil
}

// Refresh rotates the token pair. The presented refresh token is revoked.
func (s *Auther) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.validateRefresh(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	account, err := s.accountFromID(ctx, claims.UserID())
	if err != nil {
		return TokenPair{}, err
	}

	if err := CheckLoginAllowed(account); err != nil {
		return TokenPair{}, err
	}

	if err := s.revoke(ctx, claims); err != nil {
		s.logger.Error("failed to revoke rotated refresh token", "error", err)
		return TokenPair{}, err
	}

	pair, err := s.tokens.Issue(account)
	if err != nil {
		return TokenPair{}, err
	}

	s.emitAuthEvent(ctx, ActivityEventTokenRefreshed, AccountActor(account), account.ID.String(), nil)
	return pair, nil
}

// Verify validates any token issued by the gate
func (s *Auther) Verify(ctx context.Context, token string) (AuthClaims, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType() == TokenTypeRefresh {
		revoked, err := s.denylist.IsRevoked(ctx, claims.TokenID())
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// Logout revokes the refresh token until it expires
func (s *Auther) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.validateRefresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	if err := s.revoke(ctx, claims); err != nil {
		return err
	}

	s.emitAuthEvent(ctx, ActivityEventLogout, ActorRef{ID: claims.UserID(), Type: "account"}, claims.UserID(), nil)
	return nil
}

// AccountFromClaims loads the account behind validated claims
func (s *Auther) AccountFromClaims(ctx context.Context, claims AuthClaims) (*Account, error) {
	if claims == nil {
		return nil, ErrTokenMalformed
	}
	account, err := s.accountFromID(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}
	return account, nil
}

func (s *Auther) validateRefresh(ctx context.Context, token string) (*JWTClaims, error) {
	claims, err := s.tokens.ValidateType(token, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	revoked, err := s.denylist.IsRevoked(ctx, claims.TokenID())
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

func (s *Auther) revoke(ctx context.Context, claims *JWTClaims) error {
	ttl := claims.Expires().Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.denylist.Revoke(ctx, claims.TokenID(), ttl)
}

func (s *Auther) accountFromID(ctx context.Context, raw string) (*Account, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	account, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return account, nil
}

func (s *Auther) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.passwords.HashPassword(uuid.NewString())
		if err != nil {
			s.logger.Warn("failed to prepare dummy hash", "error", err)
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, accountID string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		AccountID: accountID,
		Metadata:  metadata,
	})
}
