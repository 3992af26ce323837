package models

import (
	"time"

	"github.com/uptrace/bun"
)

type DepositType string

const (
	DepositInitial DepositType = "INITIAL"
	DepositPenalty DepositType = "PENALTY"
	DepositRefund  DepositType = "REFUND"
)

// DepositEvent is an append-only ledger line. Amount is signed: penalties
// are negative, refunds and the initial deposit positive.
type DepositEvent struct {
	bun.BaseModel `bun:"table:deposit_events"`

	ID           string      `bun:"id,pk" json:"id"`
	AccountID    string      `bun:"account_id,notnull" json:"account_id"`
	Seq          int64       `bun:"seq,notnull" json:"seq"`
	Type         DepositType `bun:"type,notnull" json:"type"`
	Amount       int64       `bun:"amount,notnull" json:"amount"`
	BalanceAfter int64       `bun:"balance_after,notnull" json:"balance_after"`
	AttendanceID *string     `bun:"attendance_id" json:"attendance_id,omitempty"`
	Description  string      `bun:"description,notnull" json:"description"`
	CreatedAt    time.Time   `bun:"created_at,notnull" json:"created_at"`
}
