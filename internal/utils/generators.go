package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID used as a primary key.
func NewID() string {
	return uuid.NewString()
}

// NewTokenValue returns the opaque string embedded in a session QR code.
func NewTokenValue() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
