package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/patient-track/internal/auth"
	"github.com/spec-kit/patient-track/internal/cache"
	"github.com/spec-kit/patient-track/internal/config"
	"github.com/spec-kit/patient-track/internal/domain"
	"github.com/spec-kit/patient-track/internal/events"
	"github.com/spec-kit/patient-track/internal/repository"
)

var testAuthConfig = config.AuthConfig{
	AccessTokenTTLSeconds:     3600,
	RefreshTokenTTLSeconds:    7200,
	BcryptCost:                bcrypt.MinCost,
	ValidationCacheTTLSeconds: 60,
}

type fakeCredentials struct {
	records map[string]*domain.Credential
	err     error
}

func (f *fakeCredentials) GetAuthRecord(_ context.Context, username string) (*domain.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	cred, ok := f.records[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	out := *cred
	return &out, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc    *TokenService
	repo   repository.TokenRepository
	creds  *fakeCredentials
	clock  *clock
	events *recorder
}

func credential(t *testing.T, username, password string, role domain.Role, active bool) *domain.Credential {
	t.Helper()
	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	org := int64(12)
	orgName := "General Hospital"
	return &domain.Credential{
		UserID:           99,
		Username:         username,
		PasswordHash:     hash,
		Role:             role,
		Active:           active,
		OrganizationID:   &org,
		OrganizationName: &orgName,
	}
}

func newFixture(t *testing.T, tokenCache cache.TokenCache) *fixture {
	t.Helper()
	f := &fixture{
		repo:   repository.NewMemoryTokenRepository(),
		creds:  &fakeCredentials{records: map[string]*domain.Credential{}},
		clock:  &clock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
		events: &recorder{},
	}
	f.creds.records["alice"] = credential(t, "alice", "correct horse", domain.RoleDoctor, true)
	f.creds.records["frozen"] = credential(t, "frozen", "pw", domain.RolePatient, false)

	dispatcher := events.NewInMemoryDispatcher()
	for _, et := range auditedEvents {
		dispatcher.Subscribe(et, f.events.handle)
	}
	f.svc = NewTokenService(testAuthConfig, TokenServiceDependencies{
		Tokens:      f.repo,
		Credentials: f.creds,
		Cache:       tokenCache,
		Dispatcher:  dispatcher,
		Logger:      zap.NewNop(),
	}, WithClock(f.clock.Now))
	return f
}

func TestLogin_IssuesPairWithMetadata(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	issued, err := f.svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	pair := issued.Pair
	assert.Len(t, pair.AccessToken, 64)
	assert.Len(t, pair.RefreshToken, 64)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, domain.RoleDoctor, pair.Role)
	assert.True(t, pair.Active)
	assert.Equal(t, f.clock.Now().Add(time.Hour), pair.AccessExpiresAt)
	assert.Equal(t, f.clock.Now().Add(2*time.Hour), pair.RefreshExpiresAt)
	require.NotNil(t, issued.UserID)
	assert.Equal(t, int64(99), *issued.UserID)
	require.NotNil(t, issued.OrganizationName)
	assert.Equal(t, "General Hospital", *issued.OrganizationName)
	assert.Equal(t, []events.EventType{events.EventTokenIssued}, f.events.types())
}

func TestLogin_SingleActiveSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var issued []*domain.IssuedToken
	for i := 0; i < 5; i++ {
		tok, err := f.svc.Login(ctx, "alice", "correct horse")
		require.NoError(t, err)
		issued = append(issued, tok)
		f.clock.Advance(time.Second)
	}

	active, err := f.repo.GetActiveByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, issued[4].Pair.AccessToken, active.AccessToken)

	for _, old := range issued[:4] {
		_, err := f.svc.Validate(ctx, old.Pair.AccessToken)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	}
	info, err := f.svc.Validate(ctx, issued[4].Pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Username)
	assert.True(t, info.Active)
}

func TestLogin_SecondLoginInvalidatesFirstAccessToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	info, err := f.svc.Validate(ctx, first.Pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Username)
	assert.True(t, info.Active)

	_, err = f.svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, first.Pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.Contains(t, f.events.types(), events.EventTokenSuperseded)
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "nobody", "x")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = f.svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "frozen", "pw")
	assert.ErrorIs(t, err, domain.ErrAccountInactive)

	f.creds.records["nohash"] = &domain.Credential{Username: "nohash", Role: domain.RoleAdmin, Active: true}
	_, err = f.svc.Login(ctx, "nohash", "")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	for _, et := range f.events.types() {
		assert.Equal(t, events.EventLoginFailed, et)
	}

	f.creds.err = errors.New("user-data unavailable")
	_, err = f.svc.Login(ctx, "alice", "correct horse")
	require.Error(t, err)
	assert.False(t, domain.IsAuthFailure(err))
}

func TestLogin_PasswordEdgeCases(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, password := range []string{"", "пароль-パスワード-🔑"} {
		f.creds.records["edge"] = credential(t, "edge", password, domain.RolePatient, true)

		_, err := f.svc.Login(ctx, "edge", password)
		assert.NoError(t, err, "password %q", password)

		_, err = f.svc.Login(ctx, "edge", password+" ")
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials, "password %q", password)
	}
}

func TestRefresh_RotatesAccessTokenOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	issued, err := f.svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	refreshed, err := f.svc.Refresh(ctx, issued.Pair.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, issued.Pair.AccessToken, refreshed.AccessToken)
	assert.Equal(t, issued.Pair.RefreshToken, refreshed.RefreshToken)
	assert.True(t, refreshed.AccessExpiresAt.After(issued.Pair.AccessExpiresAt))
	assert.Equal(t, issued.Pair.RefreshExpiresAt, refreshed.RefreshExpiresAt)

	_, err = f.svc.Validate(ctx, issued.Pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	_, err = f.svc.Validate(ctx, refreshed.AccessToken)
	assert.NoError(t, err)

	again, err := f.svc.Refresh(ctx, issued.Pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, issued.Pair.RefreshToken, again.RefreshToken)
}

func TestRefresh_UnknownToken(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Refresh(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestRefresh_ExpiredWindowDeactivatesPair(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	issued, err := f.svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	f.clock.Advance(2*time.Hour + time.Second)
	_, err = f.svc.Refresh(ctx, issued.Pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrRefreshTokenExpired)

	_, err = f.svc.Validate(ctx, issued.Pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	_, err = f.svc.Refresh(ctx, issued.Pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.Contains(t, f.events.types(), events.EventTokenExpired)
}

func TestValidate_ExpiredAccessTokenKeepsPairActive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	issued, err := f.svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	f.clock.Advance(time.Hour + time.Second)
	_, err = f.svc.Validate(ctx, issued.Pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrAccessTokenExpired)

	refreshed, err := f.svc.Refresh(ctx, issued.Pair.RefreshToken)
	require.NoError(t, err)
	_, err = f.svc.Validate(ctx, refreshed.AccessToken)
	assert.NoError(t, err)
}

func TestRevoke_IsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	issued, err := f.svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(ctx, issued.Pair.AccessToken))
	require.NoError(t, f.svc.Revoke(ctx, issued.Pair.AccessToken))
	require.NoError(t, f.svc.Revoke(ctx, "never-issued"))
	require.NoError(t, f.svc.Logout(ctx, "never-issued"))

	_, err = f.svc.Validate(ctx, issued.Pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	_, err = f.svc.Refresh(ctx, issued.Pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	revoked := 0
	for _, et := range f.events.types() {
		if et == events.EventTokenRevoked {
			revoked++
		}
	}
	assert.Equal(t, 1, revoked)
}

func TestValidate_CacheIsEvictedOnRevokeAndSupersede(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, cache.NewRedisTokenCache(client, "test:", zap.NewNop()))
	ctx := context.Background()

	first, err := f.svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	_, err = f.svc.Validate(ctx, first.Pair.AccessToken)
	require.NoError(t, err)
	assert.Len(t, cachedValidations(srv), 1)

	second, err := f.svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Empty(t, cachedValidations(srv))
	_, err = f.svc.Validate(ctx, first.Pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = f.svc.Validate(ctx, second.Pair.AccessToken)
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(ctx, second.Pair.AccessToken))
	assert.Empty(t, cachedValidations(srv))
	_, err = f.svc.Validate(ctx, second.Pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func cachedValidations(srv *miniredis.Miniredis) []string {
	var keys []string
	for _, key := range srv.Keys() {
		if strings.HasPrefix(key, "test:token:") {
			keys = append(keys, key)
		}
	}
	return keys
}

// stallingTokens holds the next access-token lookup open until released.
type stallingTokens struct {
	repository.TokenRepository
	armed   atomic.Bool
	stalled chan struct{}
	release chan struct{}
}

func (r *stallingTokens) GetActiveByAccessToken(ctx context.Context, accessToken string) (*domain.TokenPair, error) {
	pair, err := r.TokenRepository.GetActiveByAccessToken(ctx, accessToken)
	if r.armed.CompareAndSwap(true, false) {
		close(r.stalled)
		<-r.release
	}
	return pair, err
}

func TestValidate_InFlightLookupCannotResurrectRevokedToken(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, nil)
	tokens := &stallingTokens{
		TokenRepository: f.repo,
		stalled:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	svc := NewTokenService(testAuthConfig, TokenServiceDependencies{
		Tokens:      tokens,
		Credentials: f.creds,
		Cache:       cache.NewRedisTokenCache(client, "test:", zap.NewNop()),
		Logger:      zap.NewNop(),
	}, WithClock(f.clock.Now))
	ctx := context.Background()

	issued, err := svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	tokens.armed.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := svc.Validate(ctx, issued.Pair.AccessToken)
		done <- err
	}()

	<-tokens.stalled
	require.NoError(t, svc.Revoke(ctx, issued.Pair.AccessToken))
	close(tokens.release)
	require.NoError(t, <-done)

	assert.Empty(t, cachedValidations(srv))
	_, err = svc.Validate(ctx, issued.Pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestRevoke_ReportsCacheInvalidationFailure(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, cache.NewRedisTokenCache(client, "test:", zap.NewNop()))
	ctx := context.Background()

	issued, err := f.svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	srv.Close()

	require.Error(t, f.svc.Revoke(ctx, issued.Pair.AccessToken))
	_, err = f.repo.GetActiveByAccessToken(ctx, issued.Pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestValidate_CachedEntryHonoursAccessExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, cache.NewRedisTokenCache(client, "test:", zap.NewNop()))
	ctx := context.Background()

	issued, err := f.svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	_, err = f.svc.Validate(ctx, issued.Pair.AccessToken)
	require.NoError(t, err)

	// the injected clock moves but miniredis time does not, so the entry is still present
	f.clock.Advance(time.Hour + time.Second)
	_, err = f.svc.Validate(ctx, issued.Pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrAccessTokenExpired)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	issued, err := f.svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(3 * time.Hour)
	n, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.svc.Refresh(ctx, issued.Pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestLogin_GeneratorFailure(t *testing.T) {
	f := newFixture(t, nil)
	svc := NewTokenService(testAuthConfig, TokenServiceDependencies{
		Tokens:      f.repo,
		Credentials: f.creds,
	}, WithTokenGenerator(func() (string, error) { return "", errors.New("entropy exhausted") }))

	_, err := svc.Login(context.Background(), "alice", "correct horse")
	require.Error(t, err)
	_, err = f.repo.GetActiveByUsername(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestNewTokenService_PreparesDummyHash(t *testing.T) {
	f := newFixture(t, nil)
	require.NotEmpty(t, f.svc.dummyHash)

	_, err := f.svc.Login(context.Background(), "nobody", "guess")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Error(t, auth.ComparePassword(f.svc.dummyHash, "guess"))
}
