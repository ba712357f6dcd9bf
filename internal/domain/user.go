package domain

import "time"

// User is the credential store's record of a platform account.
type User struct {
	ID               int64
	Username         string
	Email            string
	FirstName        string
	LastName         string
	PasswordHash     string
	Role             Role
	OrganizationID   *int64
	OrganizationName *string
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Credential is the auth record handed to the token service.
type Credential struct {
	UserID           int64
	Username         string
	PasswordHash     string
	Role             Role
	Active           bool
	OrganizationID   *int64
	OrganizationName *string
}

// Credential projects the fields the token service needs.
func (u *User) Credential() *Credential {
	return &Credential{
		UserID:           u.ID,
		Username:         u.Username,
		PasswordHash:     u.PasswordHash,
		Role:             u.Role,
		Active:           u.Active,
		OrganizationID:   u.OrganizationID,
		OrganizationName: u.OrganizationName,
	}
}
