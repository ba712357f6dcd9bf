package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/patient-track/internal/domain"
)

// OwnerCheck reports whether identity owns the resource addressed by the request.
type OwnerCheck func(c *fiber.Ctx, identity *domain.Identity) (bool, error)

// RequireAuthenticated rejects requests the filter left anonymous.
func RequireAuthenticated() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := IdentityFrom(c); !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		return c.Next()
	}
}

// RequireRole ensures the caller holds one of the allowed roles.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	return RequireRoleOrOwner(nil, allowed...)
}

// RequireRoleOrOwner admits callers holding one of the allowed roles, or
// callers for which owner reports true.
func RequireRoleOrOwner(owner OwnerCheck, allowed ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFrom(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if identity.HasRole(allowed...) {
			return c.Next()
		}
		if owner != nil {
			owns, err := owner(c, identity)
			if err != nil {
				return err
			}
			if owns {
				return c.Next()
			}
		}
		return fiber.NewError(http.StatusForbidden, "insufficient role")
	}
}
