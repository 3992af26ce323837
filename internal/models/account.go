package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CohortMemberAccount holds one enrollment's deposit balance and excuse
// counter. Version is bumped on every write.
type CohortMemberAccount struct {
	bun.BaseModel `bun:"table:cohort_member_accounts"`

	ID             string    `bun:"id,pk" json:"id"`
	MemberID       string    `bun:"member_id,notnull" json:"member_id"`
	CohortID       string    `bun:"cohort_id,notnull" json:"cohort_id"`
	InitialDeposit int64     `bun:"initial_deposit,notnull" json:"initial_deposit"`
	Balance        int64     `bun:"balance,notnull" json:"balance"`
	ExcuseCount    int       `bun:"excuse_count,notnull" json:"excuse_count"`
	Version        int64     `bun:"version,notnull" json:"-"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}
