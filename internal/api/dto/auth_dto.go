package dto

import (
	"time"

	"github.com/spec-kit/patient-track/internal/domain"
)

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "Bearer"

// LoginRequest payload for password login.
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// RefreshRequest payload for token refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RevokeRequest payload for token revocation.
type RevokeRequest struct {
	Token string `json:"token"`
}

// TokenGrantRequest is the OAuth2 token endpoint form.
type TokenGrantRequest struct {
	GrantType    string `json:"grant_type" form:"grant_type" query:"grant_type"`
	Username     string `json:"username" form:"username" query:"username"`
	Password     string `json:"password" form:"password" query:"password"`
	RefreshToken string `json:"refresh_token" form:"refresh_token" query:"refresh_token"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken      string      `json:"accessToken"`
	RefreshToken     string      `json:"refreshToken"`
	TokenType        string      `json:"tokenType"`
	ExpiresIn        int64       `json:"expiresIn"`
	Role             domain.Role `json:"role"`
	Scope            string      `json:"scope"`
	OrganizationID   *int64      `json:"organizationId,omitempty"`
	OrganizationName *string     `json:"organizationName,omitempty"`
	UserID           *int64      `json:"userId,omitempty"`
}

// NewTokenResponse maps a pair to its wire form. expiresIn is in seconds.
func NewTokenResponse(pair *domain.TokenPair, expiresIn int64) TokenResponse {
	return TokenResponse{
		AccessToken:    pair.AccessToken,
		RefreshToken:   pair.RefreshToken,
		TokenType:      TokenTypeBearer,
		ExpiresIn:      expiresIn,
		Role:           pair.Role,
		Scope:          pair.Role.Scope(),
		OrganizationID: pair.OrganizationID,
	}
}

// NewIssuedTokenResponse adds login metadata to the pair's wire form.
func NewIssuedTokenResponse(issued *domain.IssuedToken, expiresIn int64) TokenResponse {
	resp := NewTokenResponse(&issued.Pair, expiresIn)
	resp.OrganizationName = issued.OrganizationName
	resp.UserID = issued.UserID
	return resp
}

// ValidateResponse describes a valid access token.
type ValidateResponse struct {
	Username       string      `json:"username"`
	Role           domain.Role `json:"role"`
	Active         bool        `json:"active"`
	ExpiresAt      time.Time   `json:"expiresAt"`
	OrganizationID *int64      `json:"organizationId,omitempty"`
}

// NewValidateResponse maps validation info to its wire form.
func NewValidateResponse(info *domain.TokenInfo) ValidateResponse {
	return ValidateResponse{
		Username:       info.Username,
		Role:           info.Role,
		Active:         info.Active,
		ExpiresAt:      info.ExpiresAt,
		OrganizationID: info.OrganizationID,
	}
}

// TokenInfo converts the wire form back to the domain value.
func (v ValidateResponse) TokenInfo() *domain.TokenInfo {
	return &domain.TokenInfo{
		Username:       v.Username,
		Role:           v.Role,
		OrganizationID: v.OrganizationID,
		Active:         v.Active,
		ExpiresAt:      v.ExpiresAt,
	}
}

// Envelope is the success body shape shared by the services.
type Envelope[T any] struct {
	Data T `json:"data"`
}
