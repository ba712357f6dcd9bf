package domain

import "strings"

// Role enumerates platform roles carried by credentials and tokens.
type Role string

const (
	RoleAdmin         Role = "ADMIN"
	RoleDoctor        Role = "DOCTOR"
	RolePatient       Role = "PATIENT"
	RoleLabTechnician Role = "LABTECHNICIAN"

	// RoleUser is assigned to identities recovered from tokens that carry no role.
	RoleUser Role = "USER"
)

// ParseRole normalizes a role name. Unknown names are rejected.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(value)))
	switch role {
	case RoleAdmin, RoleDoctor, RolePatient, RoleLabTechnician:
		return role, true
	default:
		return "", false
	}
}

// Scope returns the lowercase form used as the OAuth2 scope value.
func (r Role) Scope() string {
	return strings.ToLower(string(r))
}
