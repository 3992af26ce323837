package attendance

import (
	"context"
	"errors"

	"ms-attendance/internal/models"
)

// Store is the persistence surface the kernel needs. Lookups return the
// matching apperror not-found sentinel when a row is absent.
type Store interface {
	FindTokenByValue(ctx context.Context, value string) (*models.AccessToken, error)
	FindSession(ctx context.Context, id string) (*models.Session, error)
	FindMember(ctx context.Context, id string) (*models.Member, error)

	// FindAccount locks the row for the rest of the transaction where the
	// dialect supports it.
	FindAccount(ctx context.Context, memberID, cohortID string) (*models.CohortMemberAccount, error)
	FindAccountByID(ctx context.Context, id string) (*models.CohortMemberAccount, error)
	InsertAccount(ctx context.Context, acc *models.CohortMemberAccount) error
	// UpdateAccount writes balance and excuse count if acc.Version is still
	// current, then bumps acc.Version.
	UpdateAccount(ctx context.Context, acc *models.CohortMemberAccount) error

	AttendanceExists(ctx context.Context, sessionID, memberID string) (bool, error)
	FindAttendance(ctx context.Context, id string) (*models.Attendance, error)
	InsertAttendance(ctx context.Context, a *models.Attendance) error
	UpdateAttendance(ctx context.Context, a *models.Attendance) error
	ListAttendancesBySession(ctx context.Context, sessionID string) ([]models.Attendance, error)
	ListAttendancesByMember(ctx context.Context, memberID string) ([]models.Attendance, error)

	AppendDepositEvent(ctx context.Context, e *models.DepositEvent) error
	ListDepositEvents(ctx context.Context, accountID string) ([]models.DepositEvent, error)

	MemberSummary(ctx context.Context, memberID, cohortID string) (*models.AttendanceSummary, error)
	CohortSummary(ctx context.Context, cohortID string) ([]models.MemberAttendanceSummary, error)
}

// DBLayer is a Store that can open a unit of work. Everything fn does
// through tx commits or rolls back together.
type DBLayer interface {
	Store
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// Locker serializes work on one key across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event models.AttendanceEvent) error
}

// Publishers fans an event out to every configured broker.
type Publishers []EventPublisher

func (ps Publishers) Publish(ctx context.Context, event models.AttendanceEvent) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
