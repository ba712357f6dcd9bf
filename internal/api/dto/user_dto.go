package dto

import (
	"net/mail"
	"strings"
	"time"

	"github.com/spec-kit/patient-track/internal/domain"
)

// RegisterRequest payload for new users.
type RegisterRequest struct {
	Username       string `json:"username"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Role           string `json:"role"`
	OrganizationID *int64 `json:"organizationId"`
}

// Validate returns per-field problems; an empty map means the request is valid.
func (r RegisterRequest) Validate() map[string]any {
	problems := map[string]any{}
	if strings.TrimSpace(r.Username) == "" {
		problems["username"] = "required"
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		problems["email"] = "invalid email address"
	}
	if r.Password == "" {
		problems["password"] = "required"
	}
	if _, ok := domain.ParseRole(r.Role); !ok {
		problems["role"] = "must be one of ADMIN, DOCTOR, PATIENT, LABTECHNICIAN"
	}
	return problems
}

// UserResponse is the public profile of a user.
type UserResponse struct {
	ID               int64       `json:"id"`
	Username         string      `json:"username"`
	Email            string      `json:"email"`
	FirstName        string      `json:"firstName"`
	LastName         string      `json:"lastName"`
	Role             domain.Role `json:"role"`
	OrganizationID   *int64      `json:"organizationId,omitempty"`
	OrganizationName *string     `json:"organizationName,omitempty"`
	Active           bool        `json:"active"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// NewUserResponse maps a user to its public profile.
func NewUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:               user.ID,
		Username:         user.Username,
		Email:            user.Email,
		FirstName:        user.FirstName,
		LastName:         user.LastName,
		Role:             user.Role,
		OrganizationID:   user.OrganizationID,
		OrganizationName: user.OrganizationName,
		Active:           user.Active,
		CreatedAt:        user.CreatedAt,
	}
}

// AuthRecordResponse is the internal credential record, password hash included.
type AuthRecordResponse struct {
	UserID           int64       `json:"userId"`
	Username         string      `json:"username"`
	PasswordHash     string      `json:"passwordHash"`
	Role             domain.Role `json:"role"`
	Active           bool        `json:"active"`
	OrganizationID   *int64      `json:"organizationId,omitempty"`
	OrganizationName *string     `json:"organizationName,omitempty"`
}

// NewAuthRecordResponse maps a credential to its wire form.
func NewAuthRecordResponse(cred *domain.Credential) AuthRecordResponse {
	return AuthRecordResponse{
		UserID:           cred.UserID,
		Username:         cred.Username,
		PasswordHash:     cred.PasswordHash,
		Role:             cred.Role,
		Active:           cred.Active,
		OrganizationID:   cred.OrganizationID,
		OrganizationName: cred.OrganizationName,
	}
}

// Credential converts the wire form back to the domain value.
func (r AuthRecordResponse) Credential() *domain.Credential {
	return &domain.Credential{
		UserID:           r.UserID,
		Username:         r.Username,
		PasswordHash:     r.PasswordHash,
		Role:             r.Role,
		Active:           r.Active,
		OrganizationID:   r.OrganizationID,
		OrganizationName: r.OrganizationName,
	}
}
