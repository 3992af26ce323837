package models

import "time"

type AttendanceEventType string

const (
	EventAttendanceRecorded  AttendanceEventType = "attendance.recorded"
	EventAttendanceCorrected AttendanceEventType = "attendance.corrected"
	EventDepositChanged      AttendanceEventType = "deposit.changed"
)

// AttendanceEvent is published after a unit of work commits.
type AttendanceEvent struct {
	Type         AttendanceEventType `json:"type"`
	AttendanceID string              `json:"attendance_id,omitempty"`
	SessionID    string              `json:"session_id,omitempty"`
	MemberID     string              `json:"member_id,omitempty"`
	AccountID    string              `json:"account_id,omitempty"`
	Outcome      Outcome             `json:"outcome,omitempty"`
	Penalty      int64               `json:"penalty"`
	Amount       int64               `json:"amount,omitempty"`
	BalanceAfter int64               `json:"balance_after"`
	OccurredAt   time.Time           `json:"occurred_at"`
}

// Key is the partition key used by brokers.
func (e AttendanceEvent) Key() string {
	if e.AccountID != "" {
		return e.AccountID
	}
	return e.AttendanceID
}
