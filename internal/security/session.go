package security

import (
	"github.com/google/uuid"
)

// GenerateSessionID creates a new UUID for session identification
func GenerateSessionID() string {
	return uuid.New().String()
}

// NewID creates a new random identifier for users and other rows
func NewID() string {
	return uuid.New().String()
}

// GenerateVerificationToken creates an opaque token for email verification links
func GenerateVerificationToken() string {
	return uuid.New().String() + uuid.New().String()[:8]
}
