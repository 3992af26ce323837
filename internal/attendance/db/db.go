package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-attendance/internal/apperror"
	"ms-attendance/internal/attendance"
	"ms-attendance/internal/database"
	"ms-attendance/internal/models"

	"github.com/uptrace/bun"
)

// DB implements attendance.DBLayer on bun. Inside WithTx the same type is
// bound to the transaction.
type DB struct {
	Bun  *bun.DB
	tx   bun.IDB
	inTx bool
}

func New(b *bun.DB) *DB {
	return &DB{Bun: b}
}

func (d *DB) conn() bun.IDB {
	if d.tx != nil {
		return d.tx
	}
	return d.Bun
}

func (d *DB) WithTx(ctx context.Context, fn func(tx attendance.Store) error) error {
	if d.inTx {
		return fn(d)
	}
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(&DB{Bun: d.Bun, tx: tx, inTx: true})
	})
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

// ---------------- LOOKUPS ----------------

func (d *DB) FindTokenByValue(ctx context.Context, value string) (*models.AccessToken, error) {
	var token models.AccessToken
	err := d.conn().NewSelect().
		Model(&token).
		Where("value = ?", value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperror.ErrTokenNotFound)
	}
	return &token, nil
}

func (d *DB) FindSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := d.conn().NewSelect().
		Model(&session).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperror.ErrSessionNotFound)
	}
	return &session, nil
}

func (d *DB) FindMember(ctx context.Context, id string) (*models.Member, error) {
	var member models.Member
	err := d.conn().NewSelect().
		Model(&member).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperror.ErrMemberNotFound)
	}
	return &member, nil
}

// ---------------- ACCOUNTS ----------------

func (d *DB) FindAccount(ctx context.Context, memberID, cohortID string) (*models.CohortMemberAccount, error) {
	var acc models.CohortMemberAccount
	q := d.conn().NewSelect().
		Model(&acc).
		Where("member_id = ?", memberID).
		Where("cohort_id = ?", cohortID)
	if d.inTx && database.SupportsRowLocks(d.conn()) {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, notFound(err, apperror.ErrAccountNotFound)
	}
	return &acc, nil
}

func (d *DB) FindAccountByID(ctx context.Context, id string) (*models.CohortMemberAccount, error) {
	var acc models.CohortMemberAccount
	err := d.conn().NewSelect().
		Model(&acc).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperror.ErrAccountNotFound)
	}
	return &acc, nil
}

func (d *DB) InsertAccount(ctx context.Context, acc *models.CohortMemberAccount) error {
	_, err := d.conn().NewInsert().Model(acc).Exec(ctx)
	if database.IsUniqueViolation(err) {
		return apperror.ErrAccountExists
	}
	return err
}

func (d *DB) UpdateAccount(ctx context.Context, acc *models.CohortMemberAccount) error {
	res, err := d.conn().NewUpdate().
		Model((*models.CohortMemberAccount)(nil)).
		Set("balance = ?", acc.Balance).
		Set("excuse_count = ?", acc.ExcuseCount).
		Set("version = ?", acc.Version+1).
		Set("updated_at = ?", acc.UpdatedAt).
		Where("id = ?", acc.ID).
		Where("version = ?", acc.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update account %s: %w", acc.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account %s: %w", acc.ID, err)
	}
	if n == 0 {
		return apperror.ErrConcurrentUpdate
	}
	acc.Version++
	return nil
}

// ---------------- ATTENDANCES ----------------

func (d *DB) AttendanceExists(ctx context.Context, sessionID, memberID string) (bool, error) {
	return d.conn().NewSelect().
		Model((*models.Attendance)(nil)).
		Where("session_id = ?", sessionID).
		Where("member_id = ?", memberID).
		Exists(ctx)
}

func (d *DB) FindAttendance(ctx context.Context, id string) (*models.Attendance, error) {
	var a models.Attendance
	err := d.conn().NewSelect().
		Model(&a).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperror.ErrAttendanceNotFound)
	}
	return &a, nil
}

func (d *DB) InsertAttendance(ctx context.Context, a *models.Attendance) error {
	_, err := d.conn().NewInsert().Model(a).Exec(ctx)
	if database.IsUniqueViolation(err) {
		return apperror.ErrDuplicateAttendance
	}
	if err != nil {
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

func (d *DB) UpdateAttendance(ctx context.Context, a *models.Attendance) error {
	_, err := d.conn().NewUpdate().
		Model(a).
		Column("outcome", "late_minutes", "penalty", "reason", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

func (d *DB) ListAttendancesBySession(ctx context.Context, sessionID string) ([]models.Attendance, error) {
	attendances := make([]models.Attendance, 0)
	err := d.conn().NewSelect().
		Model(&attendances).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Scan(ctx)
	return attendances, err
}

func (d *DB) ListAttendancesByMember(ctx context.Context, memberID string) ([]models.Attendance, error) {
	attendances := make([]models.Attendance, 0)
	err := d.conn().NewSelect().
		Model(&attendances).
		Where("member_id = ?", memberID).
		Order("created_at DESC").
		Scan(ctx)
	return attendances, err
}

// ---------------- LEDGER ----------------

func (d *DB) AppendDepositEvent(ctx context.Context, e *models.DepositEvent) error {
	_, err := d.conn().NewInsert().Model(e).Exec(ctx)
	return err
}

// ListDepositEvents orders by creation time; seq breaks ties between
// entries written within the same clock tick.
func (d *DB) ListDepositEvents(ctx context.Context, accountID string) ([]models.DepositEvent, error) {
	events := make([]models.DepositEvent, 0)
	err := d.conn().NewSelect().
		Model(&events).
		Where("account_id = ?", accountID).
		Order("created_at ASC", "seq ASC").
		Scan(ctx)
	return events, err
}
