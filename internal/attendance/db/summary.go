package db

import (
	"context"

	"ms-attendance/internal/models"
)

const outcomeTallies = `
	COALESCE(SUM(CASE WHEN a.outcome = 'PRESENT' THEN 1 ELSE 0 END), 0) AS present,
	COALESCE(SUM(CASE WHEN a.outcome = 'ABSENT' THEN 1 ELSE 0 END), 0) AS absent,
	COALESCE(SUM(CASE WHEN a.outcome = 'LATE' THEN 1 ELSE 0 END), 0) AS late,
	COALESCE(SUM(CASE WHEN a.outcome = 'EXCUSED' THEN 1 ELSE 0 END), 0) AS excused,
	COALESCE(SUM(a.penalty), 0) AS total_penalty`

// MemberSummary tallies a member's records, restricted to one cohort's
// sessions when cohortID is set.
func (d *DB) MemberSummary(ctx context.Context, memberID, cohortID string) (*models.AttendanceSummary, error) {
	summary := &models.AttendanceSummary{}

	var err error
	if cohortID == "" {
		err = d.conn().NewRaw(`SELECT ? AS member_id,`+outcomeTallies+`
			FROM attendances a
			WHERE a.member_id = ?`, memberID, memberID).
			Scan(ctx, summary)
	} else {
		err = d.conn().NewRaw(`SELECT ? AS member_id,`+outcomeTallies+`
			FROM attendances a
			JOIN sessions s ON s.id = a.session_id
			WHERE a.member_id = ? AND s.cohort_id = ?`, memberID, memberID, cohortID).
			Scan(ctx, summary)
	}
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// CohortSummary returns one row per enrolled member of the cohort, members
// without records included, ordered by name.
func (d *DB) CohortSummary(ctx context.Context, cohortID string) ([]models.MemberAttendanceSummary, error) {
	rows := make([]models.MemberAttendanceSummary, 0)
	err := d.conn().NewRaw(`SELECT
			m.id AS member_id,
			m.name AS member_name,
			acc.id AS account_id,
			acc.balance AS balance,`+outcomeTallies+`
		FROM cohort_member_accounts acc
		JOIN members m ON m.id = acc.member_id
		LEFT JOIN attendances a ON a.member_id = acc.member_id
			AND a.session_id IN (SELECT s.id FROM sessions s WHERE s.cohort_id = acc.cohort_id)
		WHERE acc.cohort_id = ?
		GROUP BY m.id, m.name, acc.id, acc.balance
		ORDER BY m.name ASC, m.id ASC`, cohortID).
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
