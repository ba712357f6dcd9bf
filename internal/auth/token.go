package auth

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateOpaqueToken returns 64 hex characters drawn from two random UUIDv4
// values (244 random bits). The token carries no claims.
func GenerateOpaqueToken() (string, error) {
	first, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	second, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(first.String()+second.String(), "-", ""), nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
