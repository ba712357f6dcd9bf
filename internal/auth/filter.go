package auth

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/patient-track/internal/domain"
	"github.com/spec-kit/patient-track/internal/observability"
)

// Filter outcomes recorded in metrics.
const (
	OutcomePublic    = "public"
	OutcomeAnonymous = "anonymous"
	OutcomeValidated = "validated"
	OutcomeFallback  = "fallback"
	OutcomeRejected  = "rejected"
)

// TokenValidator confirms an access token with the token service.
type TokenValidator interface {
	Validate(ctx context.Context, accessToken string) (*domain.TokenInfo, error)
}

// FilterOptions configures a TokenFilter.
type FilterOptions struct {
	PublicPaths []string
	Timeout     time.Duration
}

// TokenFilter establishes the request identity. It never rejects a request;
// authorization is left to the route guards.
type TokenFilter struct {
	validator   TokenValidator
	decoder     *ClaimsDecoder
	publicPaths []string
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewTokenFilter constructs the filter. decoder may be nil to disable the
// claims fallback.
func NewTokenFilter(validator TokenValidator, decoder *ClaimsDecoder, opts FilterOptions, logger *zap.Logger, metrics *observability.Metrics) *TokenFilter {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if decoder != nil && decoder.Mode() == FallbackDisabled {
		decoder = nil
	}
	return &TokenFilter{
		validator:   validator,
		decoder:     decoder,
		publicPaths: opts.PublicPaths,
		timeout:     opts.Timeout,
		logger:      logger,
		metrics:     metrics,
	}
}

// Handle is the fiber middleware entry point.
func (f *TokenFilter) Handle(c *fiber.Ctx) error {
	if f.isPublic(c.Path()) {
		f.metrics.RecordAuthOutcome(OutcomePublic)
		return c.Next()
	}
	if identity := f.authenticate(c); identity != nil {
		SetIdentity(c, identity)
	}
	return c.Next()
}

func (f *TokenFilter) isPublic(path string) bool {
	for _, prefix := range f.publicPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (f *TokenFilter) authenticate(c *fiber.Ctx) (identity *domain.Identity) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("token filter recovered from panic", zap.Any("panic", r), zap.String("path", c.Path()))
			f.metrics.RecordAuthOutcome(OutcomeRejected)
			identity = nil
		}
	}()

	token, ok := BearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		f.metrics.RecordAuthOutcome(OutcomeAnonymous)
		return nil
	}

	if identity = f.validate(c.UserContext(), token); identity != nil {
		f.metrics.RecordAuthOutcome(OutcomeValidated)
		return identity
	}

	if f.decoder == nil {
		f.metrics.RecordAuthOutcome(OutcomeRejected)
		return nil
	}
	identity, err := f.decoder.Decode(token)
	if err != nil {
		f.logger.Debug("token claims fallback failed", zap.Error(err))
		f.metrics.RecordAuthOutcome(OutcomeRejected)
		return nil
	}
	f.logger.Debug("identity recovered from token claims",
		zap.String("username", identity.Username),
		zap.String("role", string(identity.Role)),
		zap.Bool("verified", identity.Verified))
	f.metrics.RecordAuthOutcome(OutcomeFallback)
	return identity
}

func (f *TokenFilter) validate(parent context.Context, token string) *domain.Identity {
	if f.validator == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(parent, f.timeout)
	defer cancel()

	info, err := f.validator.Validate(ctx, token)
	if err != nil {
		f.logger.Warn("token validation failed", zap.Error(err))
		return nil
	}
	if info == nil || !info.Active {
		f.logger.Warn("token service reported inactive token")
		return nil
	}
	return &domain.Identity{
		Username:       info.Username,
		Role:           info.Role,
		OrganizationID: info.OrganizationID,
		Verified:       true,
	}
}
