package domain

// Identity is the authenticated caller attached to a request.
type Identity struct {
	Username       string
	Role           Role
	OrganizationID *int64
	// Verified is false when the identity came from unverified token claims.
	Verified bool
}

// HasRole reports whether the identity holds one of roles.
func (i *Identity) HasRole(roles ...Role) bool {
	if i == nil {
		return false
	}
	for _, role := range roles {
		if i.Role == role {
			return true
		}
	}
	return false
}
