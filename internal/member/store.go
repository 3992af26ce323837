package member

import (
	"context"
	"time"

	"ms-attendance/internal/models"
)

// Store persists roster entries. Lookups return apperror.ErrMemberNotFound.
type Store interface {
	FindMember(ctx context.Context, id string) (*models.Member, error)
	InsertMember(ctx context.Context, m *models.Member) error
	// ListMembers filters on status when it is non-empty.
	ListMembers(ctx context.Context, status models.MemberStatus) ([]models.Member, error)
	// Withdraw flips an ACTIVE member to WITHDRAWN and reports whether a row
	// changed.
	Withdraw(ctx context.Context, id string, now time.Time) (bool, error)
}
