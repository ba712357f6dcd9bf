package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/patient-track/internal/auth"
	"github.com/spec-kit/patient-track/internal/cache"
	"github.com/spec-kit/patient-track/internal/config"
	"github.com/spec-kit/patient-track/internal/domain"
	"github.com/spec-kit/patient-track/internal/events"
	"github.com/spec-kit/patient-track/internal/repository"
)

const dummyPassword = "patient-track/no-such-user"

// CredentialStore fetches auth records. It is implemented by the user-data
// HTTP client and, in-process, by UserService.
type CredentialStore interface {
	GetAuthRecord(ctx context.Context, username string) (*domain.Credential, error)
}

// TokenServiceDependencies encapsulates collaborators for the token service.
type TokenServiceDependencies struct {
	Tokens      repository.TokenRepository
	Credentials CredentialStore
	Cache       cache.TokenCache
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// TokenServiceOption customizes a TokenService.
type TokenServiceOption func(*TokenService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) { s.now = now }
}

// WithTokenGenerator overrides opaque token generation.
func WithTokenGenerator(generate func() (string, error)) TokenServiceOption {
	return func(s *TokenService) { s.generate = generate }
}

// TokenService owns the token pair lifecycle: login, refresh, validate, revoke.
type TokenService struct {
	tokens      repository.TokenRepository
	credentials CredentialStore
	cache       cache.TokenCache
	dispatcher  events.Dispatcher
	logger      *zap.Logger

	accessTTL  time.Duration
	refreshTTL time.Duration
	cacheTTL   time.Duration
	bcryptCost int

	now      func() time.Time
	generate func() (string, error)

	dummyHash string
}

// NewTokenService builds the service.
func NewTokenService(cfg config.AuthConfig, deps TokenServiceDependencies, opts ...TokenServiceOption) *TokenService {
	s := &TokenService{
		tokens:      deps.Tokens,
		credentials: deps.Credentials,
		cache:       deps.Cache,
		dispatcher:  deps.Dispatcher,
		logger:      deps.Logger,
		accessTTL:   cfg.AccessTTL(),
		refreshTTL:  cfg.RefreshTTL(),
		cacheTTL:    cfg.ValidationCacheTTL(),
		bcryptCost:  cfg.BcryptCost,
		now:         time.Now,
		generate:    auth.GenerateOpaqueToken,
	}
	if s.cache == nil {
		s.cache = cache.NewNoopTokenCache()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(s)
	}
	hash, err := auth.HashPassword(dummyPassword, s.bcryptCost)
	if err != nil {
		s.logger.Warn("dummy hash generation failed", zap.Error(err))
	}
	s.dummyHash = hash
	return s
}

// Login authenticates username and issues a new token pair, deactivating any
// pair the user already held.
func (s *TokenService) Login(ctx context.Context, username, password string) (*domain.IssuedToken, error) {
	cred, err := s.credentials.GetAuthRecord(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.compareDummy(password)
			s.loginFailed(ctx, username, "unknown_user")
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if cred.PasswordHash == "" {
		s.compareDummy(password)
		s.loginFailed(ctx, username, "missing_hash")
		return nil, domain.ErrInvalidCredentials
	}
	if err := auth.ComparePassword(cred.PasswordHash, password); err != nil {
		s.loginFailed(ctx, username, "bad_password")
		return nil, domain.ErrInvalidCredentials
	}
	if !cred.Active {
		s.loginFailed(ctx, username, "inactive")
		return nil, domain.ErrAccountInactive
	}

	accessToken, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	refreshToken, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now()
	pair := &domain.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		Username:         cred.Username,
		Role:             cred.Role,
		OrganizationID:   cred.OrganizationID,
		AccessExpiresAt:  now.Add(s.accessTTL),
		RefreshExpiresAt: now.Add(s.refreshTTL),
		CreatedAt:        now,
	}
	if pair.Username == "" {
		pair.Username = username
	}

	superseded, err := s.tokens.ReplaceActive(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("store token pair: %w", err)
	}
	if len(superseded) > 0 {
		stale := make([]string, 0, len(superseded))
		for _, old := range superseded {
			stale = append(stale, old.AccessToken)
			s.publish(ctx, events.New(events.EventTokenSuperseded, old.Username, now, events.TokenPairPayload{PairID: old.ID, Reason: "login"}))
		}
		s.evict(ctx, stale...)
	}
	s.publish(ctx, events.New(events.EventTokenIssued, pair.Username, now, events.TokenIssuedPayload{
		PairID:          pair.ID,
		Role:            pair.Role,
		SupersededPairs: len(superseded),
	}))

	issued := &domain.IssuedToken{Pair: *pair, OrganizationName: cred.OrganizationName}
	if cred.UserID != 0 {
		userID := cred.UserID
		issued.UserID = &userID
	}
	return issued, nil
}

// Refresh mints a new access token for the pair owning refreshToken. The
// refresh token and its expiry are unchanged.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	pair, err := s.tokens.GetActiveByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}

	now := s.now()
	if pair.RefreshExpired(now) {
		if err := s.tokens.Deactivate(ctx, pair.ID, now); err != nil && !errors.Is(err, domain.ErrTokenNotFound) {
			return nil, fmt.Errorf("deactivate expired pair: %w", err)
		}
		s.evict(ctx, pair.AccessToken)
		s.publish(ctx, events.New(events.EventTokenExpired, pair.Username, now, events.TokenPairPayload{PairID: pair.ID, Reason: "refresh"}))
		return nil, domain.ErrRefreshTokenExpired
	}

	accessToken, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	expiresAt := now.Add(s.accessTTL)
	if err := s.tokens.RotateAccessToken(ctx, pair.ID, accessToken, expiresAt); err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			// revoked or superseded since the lookup
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("rotate access token: %w", err)
	}
	s.evict(ctx, pair.AccessToken)

	pair.AccessToken = accessToken
	pair.AccessExpiresAt = expiresAt
	s.publish(ctx, events.New(events.EventTokenRefreshed, pair.Username, now, events.TokenPairPayload{PairID: pair.ID}))
	return pair, nil
}

// Validate resolves an access token to the identity it was issued for. The
// credential store is never consulted. An expired access token fails without
// deactivating the pair, which may still be refreshed.
func (s *TokenService) Validate(ctx context.Context, accessToken string) (*domain.TokenInfo, error) {
	now := s.now()
	if info, ok := s.cache.Get(ctx, accessToken); ok {
		if !now.After(info.ExpiresAt) {
			return info, nil
		}
		s.cache.Delete(ctx, accessToken)
	}

	pair, err := s.tokens.GetActiveByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup access token: %w", err)
	}
	if pair.AccessExpired(now) {
		return nil, domain.ErrAccessTokenExpired
	}

	info := pair.Info()
	ttl := s.cacheTTL
	if remaining := pair.AccessExpiresAt.Sub(now); remaining < ttl {
		ttl = remaining
	}
	s.cache.Set(ctx, accessToken, info, ttl)
	return info, nil
}

// Revoke deactivates the pair owning accessToken. Unknown or already revoked
// tokens are a no-op. An error is returned when the cached validation could
// not be invalidated, so the caller can retry.
func (s *TokenService) Revoke(ctx context.Context, accessToken string) error {
	return s.revoke(ctx, accessToken, "revoke")
}

// Logout revokes the caller's bearer token.
func (s *TokenService) Logout(ctx context.Context, accessToken string) error {
	return s.revoke(ctx, accessToken, "logout")
}

func (s *TokenService) revoke(ctx context.Context, accessToken, reason string) error {
	pair, err := s.tokens.GetActiveByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return s.invalidate(ctx, accessToken)
		}
		return fmt.Errorf("lookup access token: %w", err)
	}

	now := s.now()
	if err := s.tokens.Deactivate(ctx, pair.ID, now); err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return s.invalidate(ctx, accessToken)
		}
		return fmt.Errorf("deactivate pair: %w", err)
	}
	evictErr := s.invalidate(ctx, accessToken)
	s.publish(ctx, events.New(events.EventTokenRevoked, pair.Username, now, events.TokenPairPayload{PairID: pair.ID, Reason: reason}))
	return evictErr
}

// SweepExpired deactivates every pair whose refresh window has closed and
// returns how many were affected.
func (s *TokenService) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.tokens.DeactivateExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	stale := make([]string, 0, len(expired))
	for _, pair := range expired {
		stale = append(stale, pair.AccessToken)
		s.publish(ctx, events.New(events.EventTokenExpired, pair.Username, now, events.TokenPairPayload{PairID: pair.ID, Reason: "sweep"}))
	}
	s.evict(ctx, stale...)
	return len(expired), nil
}

// invalidate drops cached validations for tokens that are no longer active.
// The revocation marker lives as long as an access token can, so a Validate
// that read the pair before deactivation cannot cache it afterwards.
func (s *TokenService) invalidate(ctx context.Context, accessTokens ...string) error {
	if err := s.cache.Invalidate(ctx, s.accessTTL, accessTokens...); err != nil {
		return fmt.Errorf("invalidate cached validation: %w", err)
	}
	return nil
}

// evict is invalidate for paths whose store change already committed and
// must still succeed.
func (s *TokenService) evict(ctx context.Context, accessTokens ...string) {
	if err := s.invalidate(ctx, accessTokens...); err != nil {
		s.logger.Error("stale token validations may remain cached", zap.Error(err), zap.Int("tokens", len(accessTokens)))
	}
}

// compareDummy spends a bcrypt comparison so unknown usernames take as long
// as wrong passwords.
func (s *TokenService) compareDummy(password string) {
	if s.dummyHash != "" {
		_ = auth.ComparePassword(s.dummyHash, password)
	}
}

func (s *TokenService) loginFailed(ctx context.Context, username, reason string) {
	s.publish(ctx, events.New(events.EventLoginFailed, username, s.now(), events.LoginFailedPayload{Reason: reason}))
}

func (s *TokenService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
