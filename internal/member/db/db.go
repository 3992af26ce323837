package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-attendance/internal/apperror"
	"ms-attendance/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func New(b *bun.DB) *DB {
	return &DB{Bun: b}
}

func (d *DB) FindMember(ctx context.Context, id string) (*models.Member, error) {
	var m models.Member
	err := d.Bun.NewSelect().Model(&m).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (d *DB) InsertMember(ctx context.Context, m *models.Member) error {
	_, err := d.Bun.NewInsert().Model(m).Exec(ctx)
	return err
}

func (d *DB) ListMembers(ctx context.Context, status models.MemberStatus) ([]models.Member, error) {
	members := []models.Member{}
	q := d.Bun.NewSelect().Model(&members).Order("created_at ASC", "id ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return members, nil
}

func (d *DB) Withdraw(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Member)(nil)).
		Set("status = ?", models.MemberWithdrawn).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.MemberActive).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
