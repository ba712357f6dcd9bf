package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/patient-track/internal/domain"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return newInternal(err)
}

func newInternal(err error) *DomainError {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// sentinelErrors translates the domain taxonomy. The first match wins, so the
// specific token expiry errors come before the generic ones.
var sentinelErrors = []struct {
	target error
	build  func() error
}{
	{domain.ErrAccessTokenExpired, func() error { return NewUnauthorized("access token expired") }},
	{domain.ErrRefreshTokenExpired, func() error { return NewUnauthorized("refresh token expired") }},
	{domain.ErrInvalidToken, func() error { return NewUnauthorized("invalid token") }},
	{domain.ErrTokenNotFound, func() error { return NewUnauthorized("invalid token") }},
	{domain.ErrInvalidCredentials, func() error { return NewUnauthorized("invalid username or password") }},
	{domain.ErrAccountInactive, func() error { return NewUnauthorized("account is inactive") }},
	{domain.ErrUserNotFound, func() error { return NewNotFound("user", nil) }},
	{domain.ErrUserExists, func() error { return NewConflict("username or email already registered", nil) }},
	{domain.ErrOrganizationNotFound, func() error {
		return NewValidationError("unknown organization", map[string]any{"organizationId": "not found"})
	}},
}

// ToDomainError converts generic errors to DomainError. Domain sentinels keep
// the original error as the cause.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	for _, sentinel := range sentinelErrors {
		if errors.Is(err, sentinel.target) {
			mapped := sentinel.build().(*DomainError)
			mapped.Err = err
			return mapped
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return newInternal(err)
}

// MapError converts err into a DomainError, preserving nil.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}
