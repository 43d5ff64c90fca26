package common

import (
	"github.com/google/uuid"
)

// NewJobID generates an opaque sync job identifier
func NewJobID() string {
	return uuid.New().String()
}

// NewCredentialID generates a credential record identifier with the "cred_" prefix
func NewCredentialID() string {
	return "cred_" + uuid.New().String()
}
