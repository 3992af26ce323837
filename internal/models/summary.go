package models

// AttendanceSummary tallies one member's records.
type AttendanceSummary struct {
	MemberID     string `bun:"member_id" json:"member_id"`
	Present      int    `bun:"present" json:"present"`
	Absent       int    `bun:"absent" json:"absent"`
	Late         int    `bun:"late" json:"late"`
	Excused      int    `bun:"excused" json:"excused"`
	TotalPenalty int64  `bun:"total_penalty" json:"total_penalty"`
	Balance      *int64 `bun:"-" json:"balance,omitempty"`
}

// MemberAttendanceSummary is one row of a cohort-wide tally.
type MemberAttendanceSummary struct {
	MemberID     string `bun:"member_id" json:"member_id"`
	MemberName   string `bun:"member_name" json:"member_name"`
	AccountID    string `bun:"account_id" json:"account_id"`
	Present      int    `bun:"present" json:"present"`
	Absent       int    `bun:"absent" json:"absent"`
	Late         int    `bun:"late" json:"late"`
	Excused      int    `bun:"excused" json:"excused"`
	TotalPenalty int64  `bun:"total_penalty" json:"total_penalty"`
	Balance      int64  `bun:"balance" json:"balance"`
}

// SessionAttendanceCount is the per-session roll-up shown in admin listings.
type SessionAttendanceCount struct {
	SessionID string `bun:"session_id" json:"-"`
	Present   int    `bun:"present" json:"present"`
	Absent    int    `bun:"absent" json:"absent"`
	Late      int    `bun:"late" json:"late"`
	Excused   int    `bun:"excused" json:"excused"`
	Total     int    `bun:"total" json:"total"`
}

// SessionOverview is a session with its roll-up and token state.
type SessionOverview struct {
	Session
	Attendance     SessionAttendanceCount `json:"attendance"`
	HasActiveToken bool                   `json:"has_active_token"`
}
