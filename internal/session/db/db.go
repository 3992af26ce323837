package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-attendance/internal/apperror"
	"ms-attendance/internal/database"
	"ms-attendance/internal/models"
	"ms-attendance/internal/session"

	"github.com/uptrace/bun"
)

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

func (d *DB) WithTx(ctx context.Context, fn func(tx session.Store) error) error {
	if d.inTx {
		return fn(d)
	}
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(&DB{Bun: d.Bun, tx: tx, inTx: true})
	})
}

// ---------------- SESSIONS ----------------

func (d *DB) FindSession(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	err := d.conn().NewSelect().Model(&s).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (d *DB) LockSession(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	q := d.conn().NewSelect().Model(&s).Where("id = ?", id)
	if d.inTx && database.SupportsRowLocks(d.conn()) {
		q = q.For("UPDATE")
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (d *DB) InsertSession(ctx context.Context, s *models.Session) error {
	_, err := d.conn().NewInsert().Model(s).Exec(ctx)
	return err
}

func (d *DB) UpdateSession(ctx context.Context, s *models.Session) error {
	res, err := d.conn().NewUpdate().
		Model(s).
		Column("title", "date", "time", "time_zone", "location", "status", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.ErrSessionNotFound
	}
	return nil
}

// ListSessions orders by schedule. Date and time are stored as zero-padded
// text so lexical order is chronological within a zone.
func (d *DB) ListSessions(ctx context.Context, filter models.SessionFilter) ([]models.Session, error) {
	sessions := make([]models.Session, 0)
	q := d.conn().NewSelect().Model(&sessions)
	if filter.CohortID != "" {
		q = q.Where("cohort_id = ?", filter.CohortID)
	}
	if filter.DateFrom != "" {
		q = q.Where("date >= ?", filter.DateFrom)
	}
	if filter.DateTo != "" {
		q = q.Where("date <= ?", filter.DateTo)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	err := q.Order("date ASC", "time ASC", "id ASC").Scan(ctx)
	return sessions, err
}

func (d *DB) AttendanceCounts(ctx context.Context, sessionIDs []string) (map[string]models.SessionAttendanceCount, error) {
	out := make(map[string]models.SessionAttendanceCount, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}

	var rows []models.SessionAttendanceCount
	err := d.conn().NewRaw(`SELECT
			a.session_id AS session_id,
			COALESCE(SUM(CASE WHEN a.outcome = 'PRESENT' THEN 1 ELSE 0 END), 0) AS present,
			COALESCE(SUM(CASE WHEN a.outcome = 'ABSENT' THEN 1 ELSE 0 END), 0) AS absent,
			COALESCE(SUM(CASE WHEN a.outcome = 'LATE' THEN 1 ELSE 0 END), 0) AS late,
			COALESCE(SUM(CASE WHEN a.outcome = 'EXCUSED' THEN 1 ELSE 0 END), 0) AS excused,
			COUNT(*) AS total
		FROM attendances a
		WHERE a.session_id IN (?)
		GROUP BY a.session_id`, bun.In(sessionIDs)).
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.SessionID] = r
	}
	return out, nil
}

// ---------------- TOKENS ----------------

func (d *DB) FindToken(ctx context.Context, id string) (*models.AccessToken, error) {
	var t models.AccessToken
	err := d.conn().NewSelect().Model(&t).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *DB) ActiveToken(ctx context.Context, sessionID string, now time.Time) (*models.AccessToken, error) {
	var t models.AccessToken
	err := d.conn().NewSelect().
		Model(&t).
		Where("session_id = ?", sessionID).
		Where("expires_at > ?", now).
		Order("expires_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *DB) ActiveTokenSessions(ctx context.Context, sessionIDs []string, now time.Time) (map[string]bool, error) {
	out := make(map[string]bool, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}

	var ids []string
	err := d.conn().NewSelect().
		Model((*models.AccessToken)(nil)).
		ColumnExpr("DISTINCT session_id").
		Where("session_id IN (?)", bun.In(sessionIDs)).
		Where("expires_at > ?", now).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (d *DB) InsertToken(ctx context.Context, t *models.AccessToken) error {
	_, err := d.conn().NewInsert().Model(t).Exec(ctx)
	return err
}

func (d *DB) ExpireTokens(ctx context.Context, sessionID string, now time.Time) error {
	_, err := d.conn().NewUpdate().
		Model((*models.AccessToken)(nil)).
		Set("expires_at = ?", now).
		Where("session_id = ?", sessionID).
		Where("expires_at > ?", now).
		Exec(ctx)
	return err
}
