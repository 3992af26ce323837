package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AccessToken is the value encoded in a session's QR code.
type AccessToken struct {
	bun.BaseModel `bun:"table:access_tokens"`

	ID        string    `bun:"id,pk" json:"id"`
	SessionID string    `bun:"session_id,notnull" json:"session_id"`
	Value     string    `bun:"value,notnull,unique" json:"value"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt time.Time `bun:"expires_at,notnull" json:"expires_at"`
}

// ExpiredAt treats a token as expired once its expiry is at or before now.
func (t *AccessToken) ExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
