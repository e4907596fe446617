package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const DefaultBcryptCost = 12

const minTokenLength = 16

// HashToken returns the bcrypt hash stored in ADMIN_TOKEN_HASH.
func HashToken(token string) (string, error) {
	return hashTokenWithCost(token, DefaultBcryptCost)
}

func hashTokenWithCost(token string, cost int) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", fmt.Errorf("token is required")
	}
	if len(trimmed) < minTokenLength {
		return "", fmt.Errorf("token must be at least %d characters", minTokenLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(trimmed), cost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

func VerifyToken(token, hash string) bool {
	trimmedToken := strings.TrimSpace(token)
	trimmedHash := strings.TrimSpace(hash)
	if trimmedToken == "" || trimmedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(trimmedHash), []byte(trimmedToken)) == nil
}

// ValidateHash reports whether hash is a usable bcrypt hash.
func ValidateHash(hash string) error {
	if _, err := bcrypt.Cost([]byte(strings.TrimSpace(hash))); err != nil {
		return fmt.Errorf("invalid bcrypt hash: %w", err)
	}
	return nil
}

// BearerToken extracts the credential from an "Authorization: Bearer ..." header.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
