package domain

import "errors"

// Authentication failures surfaced by the token service.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountInactive     = errors.New("account inactive")
	ErrInvalidToken        = errors.New("invalid token")
	ErrAccessTokenExpired  = errors.New("access token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)

// Storage sentinels.
var (
	ErrTokenNotFound        = errors.New("token not found")
	ErrUserExists           = errors.New("user already exists")
	ErrOrganizationNotFound = errors.New("organization not found")
)

// IsAuthFailure reports whether err belongs to the authentication taxonomy.
func IsAuthFailure(err error) bool {
	for _, target := range []error{
		ErrUserNotFound,
		ErrInvalidCredentials,
		ErrAccountInactive,
		ErrInvalidToken,
		ErrAccessTokenExpired,
		ErrRefreshTokenExpired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
