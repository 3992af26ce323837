package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Outcome string

const (
	OutcomePresent Outcome = "PRESENT"
	OutcomeAbsent  Outcome = "ABSENT"
	OutcomeLate    Outcome = "LATE"
	OutcomeExcused Outcome = "EXCUSED"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomePresent, OutcomeAbsent, OutcomeLate, OutcomeExcused:
		return true
	}
	return false
}

// Attendance is the single record for a (session, member) pair.
type Attendance struct {
	bun.BaseModel `bun:"table:attendances"`

	ID          string     `bun:"id,pk" json:"id"`
	SessionID   string     `bun:"session_id,notnull" json:"session_id"`
	MemberID    string     `bun:"member_id,notnull" json:"member_id"`
	TokenID     *string    `bun:"token_id" json:"token_id,omitempty"`
	Outcome     Outcome    `bun:"outcome,notnull" json:"outcome"`
	LateMinutes *int       `bun:"late_minutes" json:"late_minutes,omitempty"`
	Penalty     int64      `bun:"penalty,notnull" json:"penalty"`
	Reason      *string    `bun:"reason" json:"reason,omitempty"`
	CheckedInAt *time.Time `bun:"checked_in_at" json:"checked_in_at,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}
