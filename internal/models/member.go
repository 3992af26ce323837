package models

import (
	"time"

	"github.com/uptrace/bun"
)

type MemberStatus string

const (
	MemberActive    MemberStatus = "ACTIVE"
	MemberWithdrawn MemberStatus = "WITHDRAWN"
)

// Member is a roster entry. Withdrawal keeps the row and its history.
type Member struct {
	bun.BaseModel `bun:"table:members"`

	ID        string       `bun:"id,pk" json:"id"`
	Name      string       `bun:"name,notnull" json:"name"`
	Status    MemberStatus `bun:"status,notnull" json:"status"`
	CreatedAt time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time    `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

func (s MemberStatus) Valid() bool {
	return s == MemberActive || s == MemberWithdrawn
}

func (m *Member) Withdrawn() bool {
	return m.Status == MemberWithdrawn
}
