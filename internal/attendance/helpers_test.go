package attendance_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ms-attendance/internal/attendance"
	attdb "ms-attendance/internal/attendance/db"
	lock "ms-attendance/internal/attendance/redis"
	"ms-attendance/internal/database"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event models.AttendanceEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// The test session starts 2026-03-02 19:00 Asia/Seoul, which is 10:00 UTC.
var (
	sessionStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tokenIssued  = sessionStart.Add(-time.Hour)
)

const (
	cohortID   = "cohort-7"
	sessionID  = "session-1"
	tokenValue = "qr-token-value"
	memberID   = "member-1"
)

type fixture struct {
	t     *testing.T
	svc   *attendance.Service
	store *attdb.DB
	bun   *bun.DB
	pub   *MockPublisher
	now   time.Time
}

func setupService(t *testing.T) *fixture {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := database.NewBun(sqldb, database.DriverSQLite)
	require.NoError(t, database.CreateSchema(context.Background(), bunDB))
	t.Cleanup(func() { bunDB.Close() })

	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()

	f := &fixture{t: t, bun: bunDB, pub: pub, now: sessionStart}
	f.store = attdb.New(bunDB)
	f.svc = attendance.NewService(f.store, lock.NewLocalLocker(), pub, logger.Discard())
	f.svc.Now = func() time.Time { return f.now }

	f.insert(
		&models.Member{ID: memberID, Name: "Kim", Status: models.MemberActive},
		&models.Session{
			ID: sessionID, CohortID: cohortID, Title: "Week 1",
			Date: "2026-03-02", Time: "19:00", TimeZone: "Asia/Seoul",
			Location: "Room A", Status: models.SessionInProgress,
		},
		&models.AccessToken{
			ID: "token-1", SessionID: sessionID, Value: tokenValue,
			CreatedAt: tokenIssued, ExpiresAt: tokenIssued.Add(24 * time.Hour),
		},
	)
	return f
}

func (f *fixture) insert(values ...interface{}) {
	f.t.Helper()
	for _, v := range values {
		_, err := f.bun.NewInsert().Model(v).Exec(context.Background())
		require.NoError(f.t, err)
	}
}

func (f *fixture) addMember(id string, status models.MemberStatus) {
	f.insert(&models.Member{ID: id, Name: id, Status: status})
}

func (f *fixture) addSession(id string, status models.SessionStatus) {
	f.insert(&models.Session{
		ID: id, CohortID: cohortID, Title: id,
		Date: "2026-03-02", Time: "19:00", TimeZone: "Asia/Seoul",
		Status: status,
	})
}

func (f *fixture) openAccount(member string, deposit int64) *models.CohortMemberAccount {
	f.t.Helper()
	acc, err := f.svc.OpenAccount(context.Background(), attendance.OpenAccountRequest{
		MemberID: member, CohortID: cohortID, InitialDeposit: &deposit,
	})
	require.NoError(f.t, err)
	return acc
}

func (f *fixture) account(id string) *models.CohortMemberAccount {
	f.t.Helper()
	acc, err := f.store.FindAccountByID(context.Background(), id)
	require.NoError(f.t, err)
	return acc
}

func (f *fixture) setExcuseCount(accountID string, n int) {
	f.t.Helper()
	_, err := f.bun.NewUpdate().
		Model((*models.CohortMemberAccount)(nil)).
		Set("excuse_count = ?", n).
		Where("id = ?", accountID).
		Exec(context.Background())
	require.NoError(f.t, err)
}

func (f *fixture) history(accountID string) []models.DepositEvent {
	f.t.Helper()
	events, err := f.svc.GetDepositHistory(context.Background(), accountID)
	require.NoError(f.t, err)
	return events
}

func (f *fixture) attendanceCount() int {
	f.t.Helper()
	n, err := f.bun.NewSelect().Model((*models.Attendance)(nil)).Count(context.Background())
	require.NoError(f.t, err)
	return n
}

// slowLocker moves the fixture clock forward while the lock is being
// acquired, as a contended Redis lock would.
type slowLocker struct {
	f    *fixture
	wait time.Duration
}

func (l *slowLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.f.now = l.f.now.Add(l.wait)
	return func() {}, nil
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func int64Ptr(v int64) *int64 { return &v }
