package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/patient-track/internal/api/dto"
	"github.com/spec-kit/patient-track/internal/domain"
)

// UserDataClient fetches credential records from the user-data service.
type UserDataClient struct {
	caller caller
}

// NewUserDataClient builds a client for the user-data service at baseURL.
func NewUserDataClient(baseURL string, timeout time.Duration) *UserDataClient {
	return &UserDataClient{caller: newCaller(baseURL, timeout)}
}

// GetAuthRecord returns the credential record for username.
func (c *UserDataClient) GetAuthRecord(ctx context.Context, username string) (*domain.Credential, error) {
	status, body, err := c.caller.get(ctx, "/users/internal/auth/"+url.PathEscape(username), nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == fiber.StatusNotFound:
		return nil, domain.ErrUserNotFound
	case status < 200 || status > 299:
		return nil, fmt.Errorf("fetch auth record: %w: %d", ErrUnexpectedStatus, status)
	}

	record, err := decodeData[dto.AuthRecordResponse](body)
	if err != nil {
		return nil, err
	}
	role, ok := domain.ParseRole(string(record.Role))
	if !ok {
		return nil, fmt.Errorf("fetch auth record: unknown role %q", record.Role)
	}
	record.Role = role
	return record.Credential(), nil
}
