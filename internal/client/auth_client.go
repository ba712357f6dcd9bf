package client

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/patient-track/internal/api/dto"
	"github.com/spec-kit/patient-track/internal/domain"
)

// AuthClient calls the token service's validate endpoint.
type AuthClient struct {
	caller caller
}

// NewAuthClient builds a client for the token service at baseURL.
func NewAuthClient(baseURL string, timeout time.Duration) *AuthClient {
	return &AuthClient{caller: newCaller(baseURL, timeout)}
}

// Validate asks the token service whether accessToken is valid.
func (c *AuthClient) Validate(ctx context.Context, accessToken string) (*domain.TokenInfo, error) {
	status, body, err := c.caller.get(ctx, "/auth/validate", map[string]string{
		fiber.HeaderAuthorization: "Bearer " + accessToken,
	})
	if err != nil {
		return nil, err
	}
	switch {
	case status == fiber.StatusUnauthorized:
		return nil, domain.ErrInvalidToken
	case status < 200 || status > 299:
		return nil, fmt.Errorf("validate token: %w: %d", ErrUnexpectedStatus, status)
	}

	resp, err := decodeData[dto.ValidateResponse](body)
	if err != nil {
		return nil, err
	}
	return resp.TokenInfo(), nil
}
