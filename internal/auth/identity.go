package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/patient-track/internal/domain"
)

const identityLocalsKey = "auth_identity"

type identityContextKey struct{}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity attached by WithIdentity.
func IdentityFromContext(ctx context.Context) (*domain.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*domain.Identity)
	return identity, ok && identity != nil
}

// SetIdentity attaches identity to the request, both as a local and on the
// request's user context.
func SetIdentity(c *fiber.Ctx, identity *domain.Identity) {
	c.Locals(identityLocalsKey, identity)
	c.SetUserContext(WithIdentity(c.UserContext(), identity))
}

// IdentityFrom retrieves the authenticated caller of the request.
func IdentityFrom(c *fiber.Ctx) (*domain.Identity, bool) {
	identity, ok := c.Locals(identityLocalsKey).(*domain.Identity)
	return identity, ok && identity != nil
}
