package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/patient-track/internal/api/dto"
	"github.com/spec-kit/patient-track/internal/auth"
	"github.com/spec-kit/patient-track/internal/domain"
	"github.com/spec-kit/patient-track/internal/service"
	apperrors "github.com/spec-kit/patient-track/pkg/util"
)

const (
	grantPassword     = "password"
	grantRefreshToken = "refresh_token"
)

// AuthHandler exposes the token service endpoints.
type AuthHandler struct {
	tokens    *service.TokenService
	expiresIn int64
}

// NewAuthHandler constructs handler. accessTTL is reported as expiresIn.
func NewAuthHandler(tokens *service.TokenService, accessTTL time.Duration) *AuthHandler {
	return &AuthHandler{tokens: tokens, expiresIn: int64(accessTTL / time.Second)}
}

// Token handles POST /auth/token, the OAuth2 password and refresh_token grants.
func (h *AuthHandler) Token(c *fiber.Ctx) error {
	var req dto.TokenGrantRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid payload")
		}
	}
	if req.GrantType == "" {
		if err := c.QueryParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid query")
		}
	}

	switch req.GrantType {
	case grantPassword:
		return h.login(c, req.Username, req.Password)
	case grantRefreshToken:
		return h.refresh(c, req.RefreshToken)
	default:
		return apperrors.NewValidationError("unsupported grant_type", map[string]any{"grant_type": req.GrantType})
	}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	return h.login(c, req.Username, req.Password)
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	return h.refresh(c, req.RefreshToken)
}

// Validate handles GET /auth/validate. The token is read from ?token= or the
// Authorization header.
func (h *AuthHandler) Validate(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token, _ = auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	}
	if token == "" {
		return apperrors.NewUnauthorized("missing token")
	}

	info, err := h.tokens.Validate(c.UserContext(), token)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewValidateResponse(info)})
}

// Revoke handles POST /auth/revoke. It succeeds whether or not the token existed.
func (h *AuthHandler) Revoke(c *fiber.Ctx) error {
	var req dto.RevokeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid payload")
		}
	}
	if req.Token == "" {
		req.Token = c.Query("token")
	}
	if req.Token != "" {
		if err := h.tokens.Revoke(c.UserContext(), req.Token); err != nil {
			return apperrors.MapError(err)
		}
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"message": "token revoked"}})
}

// Logout handles POST /auth/logout by revoking the bearer token.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if token, ok := auth.BearerToken(c.Get(fiber.HeaderAuthorization)); ok {
		if err := h.tokens.Logout(c.UserContext(), token); err != nil {
			return apperrors.MapError(err)
		}
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"message": "logged out"}})
}

func (h *AuthHandler) login(c *fiber.Ctx, username, password string) error {
	if strings.TrimSpace(username) == "" {
		return apperrors.NewValidationError("username and password required", nil)
	}
	issued, err := h.tokens.Login(c.UserContext(), username, password)
	if err != nil {
		return loginError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewIssuedTokenResponse(issued, h.expiresIn)})
}

func (h *AuthHandler) refresh(c *fiber.Ctx, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return apperrors.NewValidationError("refresh token required", nil)
	}
	pair, err := h.tokens.Refresh(c.UserContext(), refreshToken)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewTokenResponse(pair, h.expiresIn)})
}

// loginError hides whether the username exists.
func loginError(err error) error {
	if errors.Is(err, domain.ErrUserNotFound) {
		return apperrors.MapError(fmt.Errorf("%w: %w", domain.ErrInvalidCredentials, err))
	}
	return apperrors.MapError(err)
}
