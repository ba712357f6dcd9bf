package domain

import "time"

// TokenPair is a persisted access/refresh token pair.
type TokenPair struct {
	ID               int64
	AccessToken      string
	RefreshToken     string
	Username         string
	Role             Role
	OrganizationID   *int64
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
	RevokedAt        *time.Time
	Active           bool
}

// AccessExpired reports whether the access token is past its expiry at now.
func (p *TokenPair) AccessExpired(now time.Time) bool {
	return now.After(p.AccessExpiresAt)
}

// RefreshExpired reports whether the refresh window has closed at now.
func (p *TokenPair) RefreshExpired(now time.Time) bool {
	return now.After(p.RefreshExpiresAt)
}

// Info returns the validation view of the pair.
func (p *TokenPair) Info() *TokenInfo {
	return &TokenInfo{
		Username:       p.Username,
		Role:           p.Role,
		OrganizationID: p.OrganizationID,
		Active:         p.Active,
		ExpiresAt:      p.AccessExpiresAt,
	}
}

// IssuedToken is the login result: the new pair plus client metadata.
type IssuedToken struct {
	Pair             TokenPair
	UserID           *int64
	OrganizationName *string
}

// TokenInfo is the outcome of a successful access token validation.
type TokenInfo struct {
	Username       string    `json:"username"`
	Role           Role      `json:"role"`
	OrganizationID *int64    `json:"organizationId,omitempty"`
	Active         bool      `json:"active"`
	ExpiresAt      time.Time `json:"expiresAt"`
}
