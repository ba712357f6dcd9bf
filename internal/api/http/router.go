package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/patient-track/internal/api/http/handlers"
	"github.com/spec-kit/patient-track/internal/auth"
	"github.com/spec-kit/patient-track/internal/domain"
)

// AuthRouteConfig bundles dependencies for the token service routes.
type AuthRouteConfig struct {
	Health *handlers.HealthHandler
	Auth   *handlers.AuthHandler
}

// RegisterAuthRoutes wires the token service HTTP routes.
func RegisterAuthRoutes(app *fiber.App, cfg AuthRouteConfig) {
	registerHealthRoutes(app, cfg.Health)

	authGroup := app.Group("/auth")
	authGroup.Post("/token", cfg.Auth.Token)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Get("/validate", cfg.Auth.Validate)
	authGroup.Post("/revoke", cfg.Auth.Revoke)
	authGroup.Post("/logout", cfg.Auth.Logout)
}

// UserDataRouteConfig bundles dependencies for the user-data service routes.
type UserDataRouteConfig struct {
	Health *handlers.HealthHandler
	Users  *handlers.UsersHandler
	Filter *auth.TokenFilter
}

// UserDataPublicPaths are reachable without a token on the user-data service.
var UserDataPublicPaths = []string{"/users/internal/", "/users/register"}

// RegisterUserDataRoutes wires the user-data service HTTP routes behind the
// token filter.
func RegisterUserDataRoutes(app *fiber.App, cfg UserDataRouteConfig) {
	app.Use(cfg.Filter.Handle)
	registerHealthRoutes(app, cfg.Health)

	users := app.Group("/users")
	users.Post("/register", cfg.Users.Register)
	users.Get("/internal/auth/:username", cfg.Users.AuthRecord)
	users.Get("/internal/user/:id", cfg.Users.InternalUser)

	users.Get("/me", auth.RequireAuthenticated(), cfg.Users.Me)
	users.Get("/username/:username", auth.RequireAuthenticated(), cfg.Users.ByUsername)
	users.Get("/:id", auth.RequireRoleOrOwner(cfg.Users.IsOwner, domain.RoleAdmin), cfg.Users.ByID)
}

func registerHealthRoutes(app *fiber.App, health *handlers.HealthHandler) {
	app.Get("/health/live", health.Live)
	app.Get("/health/ready", health.Ready)
	app.Get("/metrics", health.Metrics)
}
