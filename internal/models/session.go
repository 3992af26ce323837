package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SessionStatus string

const (
	SessionScheduled  SessionStatus = "SCHEDULED"
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionCancelled  SessionStatus = "CANCELLED"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionInProgress, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

// AcceptsCheckIn reports whether self-service check-in is open.
func (s SessionStatus) AcceptsCheckIn() bool {
	return s == SessionInProgress
}

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// CanTransitionTo encodes SCHEDULED -> IN_PROGRESS -> COMPLETED, with
// CANCELLED reachable from any non-terminal state. Staying put is allowed.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case SessionScheduled:
		return next == SessionInProgress || next == SessionCancelled
	case SessionInProgress:
		return next == SessionCompleted || next == SessionCancelled
	}
	return false
}

// Session is a scheduled meeting of a cohort. Date and Time are wall-clock
// values interpreted in TimeZone.
type Session struct {
	bun.BaseModel `bun:"table:sessions"`

	ID        string        `bun:"id,pk" json:"id"`
	CohortID  string        `bun:"cohort_id,notnull" json:"cohort_id"`
	Title     string        `bun:"title,notnull" json:"title"`
	Date      string        `bun:"date,notnull" json:"date"` // YYYY-MM-DD
	Time      string        `bun:"time,notnull" json:"time"` // HH:MM
	TimeZone  string        `bun:"time_zone,notnull" json:"time_zone"`
	Location  string        `bun:"location,notnull" json:"location"`
	Status    SessionStatus `bun:"status,notnull" json:"status"`
	CreatedAt time.Time     `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time     `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// SessionFilter narrows admin session listings. Zero values match everything.
type SessionFilter struct {
	CohortID string
	DateFrom string
	DateTo   string
	Status   SessionStatus
}
