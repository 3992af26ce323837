package attendance_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"ms-attendance/internal/apperror"
	"ms-attendance/internal/attendance"
	"ms-attendance/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ---------------- CHECK-IN ----------------

func TestCheckIn_OnTimeIsPresent(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	f.now = sessionStart.Add(-2 * time.Minute)

	record, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomePresent, record.Outcome)
	assert.Nil(t, record.LateMinutes)
	assert.Equal(t, int64(0), record.Penalty)
	require.NotNil(t, record.TokenID)
	assert.Equal(t, "token-1", *record.TokenID)
	require.NotNil(t, record.CheckedInAt)
	assert.True(t, record.CheckedInAt.Equal(f.now))

	assert.Equal(t, int64(100000), f.account(acc.ID).Balance)
	assert.Len(t, f.history(acc.ID), 1)
}

func TestCheckIn_ExactlyOnScheduleIsPresent(t *testing.T) {
	f := setupService(t)
	f.openAccount(memberID, 100000)
	f.now = sessionStart

	record, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePresent, record.Outcome)
}

func TestCheckIn_LateDebitsPenalty(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	f.now = sessionStart.Add(4*time.Minute + 30*time.Second)

	record, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeLate, record.Outcome)
	require.NotNil(t, record.LateMinutes)
	assert.Equal(t, 5, *record.LateMinutes)
	assert.Equal(t, int64(2500), record.Penalty)

	got := f.account(acc.ID)
	assert.Equal(t, int64(97500), got.Balance)

	events := f.history(acc.ID)
	require.Len(t, events, 2)
	assert.Equal(t, models.DepositPenalty, events[1].Type)
	assert.Equal(t, int64(-2500), events[1].Amount)
	assert.Equal(t, int64(97500), events[1].BalanceAfter)
	require.NotNil(t, events[1].AttendanceID)
	assert.Equal(t, record.ID, *events[1].AttendanceID)

	f.pub.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(e models.AttendanceEvent) bool {
		return e.Type == models.EventAttendanceRecorded && e.AttendanceID == record.ID && e.Amount == -2500
	}))
}

func TestCheckIn_LatePenaltyCapped(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	f.now = sessionStart.Add(45 * time.Minute)

	record, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
	require.NoError(t, err)
	assert.Equal(t, 45, *record.LateMinutes)
	assert.Equal(t, int64(10000), record.Penalty)
	assert.Equal(t, int64(90000), f.account(acc.ID).Balance)
}

func TestCheckIn_TokenInvalid(t *testing.T) {
	f := setupService(t)
	f.openAccount(memberID, 100000)

	_, err := f.svc.CheckIn(context.Background(), "unknown", memberID)
	assert.ErrorIs(t, err, apperror.ErrTokenInvalid)
	assert.Equal(t, apperror.KindPrecondition, apperror.KindOf(err))
}

func TestCheckIn_TokenExpired(t *testing.T) {
	f := setupService(t)
	f.openAccount(memberID, 100000)

	f.now = tokenIssued.Add(25 * time.Hour)
	_, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
	assert.ErrorIs(t, err, apperror.ErrTokenExpired)

	// Expiry is inclusive.
	f.now = tokenIssued.Add(24 * time.Hour)
	_, err = f.svc.CheckIn(context.Background(), tokenValue, memberID)
	assert.ErrorIs(t, err, apperror.ErrTokenExpired)

	assert.Equal(t, 0, f.attendanceCount())
}

func TestCheckIn_ExpiryJudgedAfterLockWait(t *testing.T) {
	f := setupService(t)
	f.openAccount(memberID, 100000)
	f.svc.Locker = &slowLocker{f: f, wait: 3 * time.Second}

	// Valid on arrival, expired once the lock is held.
	f.now = tokenIssued.Add(24*time.Hour - time.Second)
	_, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
	assert.ErrorIs(t, err, apperror.ErrTokenExpired)
	assert.Equal(t, 0, f.attendanceCount())
}

func TestCheckIn_LatenessJudgedAfterLockWait(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	f.svc.Locker = &slowLocker{f: f, wait: 90 * time.Second}

	f.now = sessionStart.Add(-30 * time.Second)
	record, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeLate, record.Outcome)
	require.NotNil(t, record.LateMinutes)
	assert.Equal(t, 1, *record.LateMinutes)
	assert.True(t, record.CheckedInAt.Equal(sessionStart.Add(time.Minute)))
	assert.Equal(t, int64(99500), f.account(acc.ID).Balance)
}

func TestCheckIn_SessionNotInProgress(t *testing.T) {
	for _, status := range []models.SessionStatus{models.SessionScheduled, models.SessionCompleted, models.SessionCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := setupService(t)
			f.openAccount(memberID, 100000)
			_, err := f.bun.NewUpdate().Model((*models.Session)(nil)).
				Set("status = ?", status).Where("id = ?", sessionID).Exec(context.Background())
			require.NoError(t, err)

			_, err = f.svc.CheckIn(context.Background(), tokenValue, memberID)
			assert.ErrorIs(t, err, apperror.ErrSessionNotAcceptingCheckIn)
		})
	}
}

func TestCheckIn_MemberChecks(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.CheckIn(context.Background(), tokenValue, "ghost")
	assert.ErrorIs(t, err, apperror.ErrMemberNotFound)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	f.addMember("gone", models.MemberWithdrawn)
	_, err = f.svc.CheckIn(context.Background(), tokenValue, "gone")
	assert.ErrorIs(t, err, apperror.ErrMemberWithdrawn)
}

func TestCheckIn_AccountNotFound(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
	assert.ErrorIs(t, err, apperror.ErrAccountNotFound)
	assert.Equal(t, 0, f.attendanceCount())
}

func TestCheckIn_Duplicate(t *testing.T) {
	f := setupService(t)
	f.openAccount(memberID, 100000)

	_, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
	require.NoError(t, err)

	_, err = f.svc.CheckIn(context.Background(), tokenValue, memberID)
	assert.ErrorIs(t, err, apperror.ErrDuplicateAttendance)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Equal(t, 1, f.attendanceCount())
}

func TestCheckIn_ConcurrentOnlyOneSucceeds(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	f.now = sessionStart.Add(3 * time.Minute)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dups      int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperror.ErrDuplicateAttendance):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, dups)
	assert.Equal(t, 1, f.attendanceCount())

	// One late penalty, not eight.
	assert.Equal(t, int64(98500), f.account(acc.ID).Balance)
	assert.Len(t, f.history(acc.ID), 2)
}

func TestCheckIn_InsufficientDeposit(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 5000)
	f.now = sessionStart.Add(30 * time.Minute)

	_, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
	assert.ErrorIs(t, err, apperror.ErrInsufficientDeposit)

	assert.Equal(t, 0, f.attendanceCount())
	assert.Equal(t, int64(5000), f.account(acc.ID).Balance)
	events := f.history(acc.ID)
	require.Len(t, events, 1)
	assert.Equal(t, models.DepositInitial, events[0].Type)
}

func TestCheckIn_PublishFailureDoesNotFail(t *testing.T) {
	f := setupService(t)
	f.openAccount(memberID, 100000)

	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	f.svc.Publisher = pub

	record, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestCheckIn_RequiresArguments(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.CheckIn(context.Background(), "", memberID)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	assert.Equal(t, apperror.KindInvalidInput, apperror.KindOf(err))
}

// ---------------- REGISTER ----------------

func TestRegisterAttendance_Absent(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)

	record, err := f.svc.RegisterAttendance(context.Background(), attendance.RegisterRequest{
		SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeAbsent, Reason: strPtr("no show"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), record.Penalty)
	assert.Nil(t, record.CheckedInAt)
	assert.Nil(t, record.TokenID)
	require.NotNil(t, record.Reason)
	assert.Equal(t, "no show", *record.Reason)
	assert.Equal(t, int64(90000), f.account(acc.ID).Balance)
}

func TestRegisterAttendance_LateWithoutMinutesIsFree(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)

	record, err := f.svc.RegisterAttendance(context.Background(), attendance.RegisterRequest{
		SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeLate,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.Penalty)
	assert.Len(t, f.history(acc.ID), 1)
}

func TestRegisterAttendance_DropsMinutesForNonLate(t *testing.T) {
	f := setupService(t)
	f.openAccount(memberID, 100000)

	record, err := f.svc.RegisterAttendance(context.Background(), attendance.RegisterRequest{
		SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomePresent, LateMinutes: intPtr(12),
	})
	require.NoError(t, err)
	assert.Nil(t, record.LateMinutes)
}

func TestRegisterAttendance_ExcusedIncrementsCount(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)

	record, err := f.svc.RegisterAttendance(context.Background(), attendance.RegisterRequest{
		SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeExcused,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.Penalty)

	got := f.account(acc.ID)
	assert.Equal(t, 1, got.ExcuseCount)
	assert.Equal(t, int64(100000), got.Balance)
	assert.Len(t, f.history(acc.ID), 1)
}

func TestRegisterAttendance_ExcuseLimit(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	f.setExcuseCount(acc.ID, 3)

	_, err := f.svc.RegisterAttendance(context.Background(), attendance.RegisterRequest{
		SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeExcused,
	})
	assert.ErrorIs(t, err, apperror.ErrExcuseLimitExceeded)
	assert.Equal(t, 3, f.account(acc.ID).ExcuseCount)
	assert.Equal(t, 0, f.attendanceCount())
}

func TestRegisterAttendance_ExcuseLimitAcrossSessions(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	ctx := context.Background()

	for _, id := range []string{"s-a", "s-b", "s-c", "s-d"} {
		f.addSession(id, models.SessionCompleted)
	}
	for _, id := range []string{"s-a", "s-b", "s-c"} {
		_, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: id, MemberID: memberID, Outcome: models.OutcomeExcused})
		require.NoError(t, err)
	}
	_, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: "s-d", MemberID: memberID, Outcome: models.OutcomeExcused})
	assert.ErrorIs(t, err, apperror.ErrExcuseLimitExceeded)
	assert.Equal(t, 3, f.account(acc.ID).ExcuseCount)
}

func TestRegisterAttendance_DuplicateAfterCheckIn(t *testing.T) {
	f := setupService(t)
	f.openAccount(memberID, 100000)

	_, err := f.svc.CheckIn(context.Background(), tokenValue, memberID)
	require.NoError(t, err)

	_, err = f.svc.RegisterAttendance(context.Background(), attendance.RegisterRequest{
		SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeAbsent,
	})
	assert.ErrorIs(t, err, apperror.ErrDuplicateAttendance)
}

func TestRegisterAttendance_HugeLateMinutesCapped(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	ctx := context.Background()

	for i, mins := range []int{36893488147419103, math.MaxInt} {
		session := sessionID
		if i > 0 {
			session = "session-huge"
			f.addSession(session, models.SessionCompleted)
		}
		record, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{
			SessionID: session, MemberID: memberID, Outcome: models.OutcomeLate, LateMinutes: intPtr(mins),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(10000), record.Penalty)
	}

	got := f.account(acc.ID)
	assert.Equal(t, int64(80000), got.Balance)
	for _, e := range f.history(acc.ID) {
		assert.NotEqual(t, models.DepositRefund, e.Type)
		assert.LessOrEqual(t, e.BalanceAfter, got.InitialDeposit)
	}
}

func TestRegisterAttendance_NegativePenaltyRejected(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	f.svc.Policy.AbsentAmount = -500

	_, err := f.svc.RegisterAttendance(context.Background(), attendance.RegisterRequest{
		SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeAbsent,
	})
	assert.ErrorIs(t, err, apperror.ErrLedgerInvariant)
	assert.Equal(t, 0, f.attendanceCount())
	assert.Equal(t, int64(100000), f.account(acc.ID).Balance)
	assert.Len(t, f.history(acc.ID), 1)
}

func TestRegisterAttendance_InsufficientDeposit(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 9999)

	_, err := f.svc.RegisterAttendance(context.Background(), attendance.RegisterRequest{
		SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeAbsent,
	})
	assert.ErrorIs(t, err, apperror.ErrInsufficientDeposit)
	assert.Equal(t, int64(9999), f.account(acc.ID).Balance)
	assert.Equal(t, 0, f.attendanceCount())
}

func TestRegisterAttendance_Validation(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: memberID, Outcome: "SICK"})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeLate, LateMinutes: intPtr(-1)})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: "nope", MemberID: memberID, Outcome: models.OutcomeAbsent})
	assert.ErrorIs(t, err, apperror.ErrSessionNotFound)

	_, err = f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: "nope", Outcome: models.OutcomeAbsent})
	assert.ErrorIs(t, err, apperror.ErrMemberNotFound)
}

// ---------------- UPDATE ----------------

func TestUpdateAttendance_ExcusedToAbsent(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	ctx := context.Background()

	record, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeExcused})
	require.NoError(t, err)
	require.Equal(t, 1, f.account(acc.ID).ExcuseCount)

	f.now = f.now.Add(time.Hour)
	updated, err := f.svc.UpdateAttendance(ctx, record.ID, attendance.UpdateRequest{Outcome: models.OutcomeAbsent})
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeAbsent, updated.Outcome)
	assert.Equal(t, int64(10000), updated.Penalty)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	got := f.account(acc.ID)
	assert.Equal(t, int64(90000), got.Balance)
	assert.Equal(t, 0, got.ExcuseCount)

	events := f.history(acc.ID)
	require.Len(t, events, 2)
	assert.Equal(t, models.DepositPenalty, events[1].Type)
	assert.Equal(t, int64(-10000), events[1].Amount)
	assert.Equal(t, int64(90000), events[1].BalanceAfter)
}

func TestUpdateAttendance_AbsentToExcused(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	ctx := context.Background()

	record, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeAbsent})
	require.NoError(t, err)
	require.Equal(t, int64(90000), f.account(acc.ID).Balance)

	updated, err := f.svc.UpdateAttendance(ctx, record.ID, attendance.UpdateRequest{Outcome: models.OutcomeExcused, Reason: strPtr("family event")})
	require.NoError(t, err)

	assert.Equal(t, int64(0), updated.Penalty)
	assert.Equal(t, "family event", *updated.Reason)

	got := f.account(acc.ID)
	assert.Equal(t, int64(100000), got.Balance)
	assert.Equal(t, 1, got.ExcuseCount)

	events := f.history(acc.ID)
	require.Len(t, events, 3)
	assert.Equal(t, models.DepositRefund, events[2].Type)
	assert.Equal(t, int64(10000), events[2].Amount)
	assert.Equal(t, int64(100000), events[2].BalanceAfter)

	f.pub.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(e models.AttendanceEvent) bool {
		return e.Type == models.EventAttendanceCorrected && e.Amount == 10000
	}))
}

func TestUpdateAttendance_IntoExcusedAtLimit(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	ctx := context.Background()

	record, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeAbsent})
	require.NoError(t, err)
	f.setExcuseCount(acc.ID, 3)

	_, err = f.svc.UpdateAttendance(ctx, record.ID, attendance.UpdateRequest{Outcome: models.OutcomeExcused})
	assert.ErrorIs(t, err, apperror.ErrExcuseLimitExceeded)

	got := f.account(acc.ID)
	assert.Equal(t, 3, got.ExcuseCount)
	assert.Equal(t, int64(90000), got.Balance)
}

func TestUpdateAttendance_ExcusedToExcusedKeepsCount(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	ctx := context.Background()

	record, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeExcused})
	require.NoError(t, err)

	_, err = f.svc.UpdateAttendance(ctx, record.ID, attendance.UpdateRequest{Outcome: models.OutcomeExcused, Reason: strPtr("updated note")})
	require.NoError(t, err)

	assert.Equal(t, 1, f.account(acc.ID).ExcuseCount)
	assert.Len(t, f.history(acc.ID), 1)
}

func TestUpdateAttendance_OutOfExcusedFloorsAtZero(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	ctx := context.Background()

	record, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeExcused})
	require.NoError(t, err)
	f.setExcuseCount(acc.ID, 0)

	_, err = f.svc.UpdateAttendance(ctx, record.ID, attendance.UpdateRequest{Outcome: models.OutcomePresent})
	require.NoError(t, err)
	assert.Equal(t, 0, f.account(acc.ID).ExcuseCount)
}

func TestUpdateAttendance_NoDiffWritesNoEvent(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	ctx := context.Background()

	record, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeAbsent, Reason: strPtr("first")})
	require.NoError(t, err)

	updated, err := f.svc.UpdateAttendance(ctx, record.ID, attendance.UpdateRequest{Outcome: models.OutcomeAbsent})
	require.NoError(t, err)

	assert.Equal(t, "first", *updated.Reason)
	assert.Len(t, f.history(acc.ID), 2)
	assert.Equal(t, int64(90000), f.account(acc.ID).Balance)
}

func TestUpdateAttendance_LateIncreaseNetsDifference(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	ctx := context.Background()

	record, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeLate, LateMinutes: intPtr(5)})
	require.NoError(t, err)

	updated, err := f.svc.UpdateAttendance(ctx, record.ID, attendance.UpdateRequest{Outcome: models.OutcomeLate, LateMinutes: intPtr(15)})
	require.NoError(t, err)
	assert.Equal(t, int64(7500), updated.Penalty)

	events := f.history(acc.ID)
	require.Len(t, events, 3)
	assert.Equal(t, int64(-5000), events[2].Amount)
	assert.Equal(t, int64(92500), f.account(acc.ID).Balance)
}

func TestUpdateAttendance_InsufficientForIncrease(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 3000)
	ctx := context.Background()

	record, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeLate, LateMinutes: intPtr(2)})
	require.NoError(t, err)
	require.Equal(t, int64(2000), f.account(acc.ID).Balance)

	_, err = f.svc.UpdateAttendance(ctx, record.ID, attendance.UpdateRequest{Outcome: models.OutcomeAbsent})
	assert.ErrorIs(t, err, apperror.ErrInsufficientDeposit)

	got, err := f.store.FindAttendance(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeLate, got.Outcome)
	assert.Equal(t, int64(2000), f.account(acc.ID).Balance)
}

func TestUpdateAttendance_RefundAboveInitialDepositRejected(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	ctx := context.Background()

	record, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeAbsent})
	require.NoError(t, err)

	// Balance restored out of band, so a refund would overshoot.
	_, err = f.bun.NewUpdate().Model((*models.CohortMemberAccount)(nil)).
		Set("balance = ?", 100000).Where("id = ?", acc.ID).Exec(ctx)
	require.NoError(t, err)

	_, err = f.svc.UpdateAttendance(ctx, record.ID, attendance.UpdateRequest{Outcome: models.OutcomePresent})
	assert.ErrorIs(t, err, apperror.ErrLedgerInvariant)
	assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))

	got, err := f.store.FindAttendance(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAbsent, got.Outcome)
}

func TestUpdateAttendance_NotFound(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.UpdateAttendance(context.Background(), "missing", attendance.UpdateRequest{Outcome: models.OutcomePresent})
	assert.ErrorIs(t, err, apperror.ErrAttendanceNotFound)
}

// ---------------- LEDGER ----------------

func TestLedgerConsistency(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	ctx := context.Background()

	for _, id := range []string{"s-a", "s-b", "s-c"} {
		f.addSession(id, models.SessionCompleted)
	}

	f.now = sessionStart.Add(7 * time.Minute)
	checkIn, err := f.svc.CheckIn(ctx, tokenValue, memberID)
	require.NoError(t, err)

	a, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: "s-a", MemberID: memberID, Outcome: models.OutcomeAbsent})
	require.NoError(t, err)
	b, err := f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: "s-b", MemberID: memberID, Outcome: models.OutcomeExcused})
	require.NoError(t, err)
	_, err = f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: "s-c", MemberID: memberID, Outcome: models.OutcomeLate, LateMinutes: intPtr(3)})
	require.NoError(t, err)

	_, err = f.svc.UpdateAttendance(ctx, a.ID, attendance.UpdateRequest{Outcome: models.OutcomeExcused})
	require.NoError(t, err)
	_, err = f.svc.UpdateAttendance(ctx, b.ID, attendance.UpdateRequest{Outcome: models.OutcomeAbsent})
	require.NoError(t, err)
	_, err = f.svc.UpdateAttendance(ctx, checkIn.ID, attendance.UpdateRequest{Outcome: models.OutcomePresent})
	require.NoError(t, err)

	got := f.account(acc.ID)
	events := f.history(acc.ID)
	require.NotEmpty(t, events)

	var sum int64
	for i, e := range events {
		sum += e.Amount
		assert.Equal(t, sum, e.BalanceAfter, "running balance at event %d", i)
		if i > 0 {
			assert.Greater(t, e.Seq, events[i-1].Seq)
		}
	}
	assert.Equal(t, got.Balance, sum)
	assert.Equal(t, got.Balance, events[len(events)-1].BalanceAfter)
	assert.Equal(t, models.DepositInitial, events[0].Type)
	assert.Equal(t, got.InitialDeposit, events[0].Amount)

	// absent(10000) + late 3m(1500) after corrections; check-in refunded.
	assert.Equal(t, int64(100000-10000-1500), got.Balance)
	assert.Equal(t, 1, got.ExcuseCount)
}

func TestRollbackOnMidTransactionFailure(t *testing.T) {
	f := setupService(t)
	acc := f.openAccount(memberID, 100000)
	ctx := context.Background()

	_, err := f.bun.NewDropTable().Model((*models.DepositEvent)(nil)).Exec(ctx)
	require.NoError(t, err)

	_, err = f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: memberID, Outcome: models.OutcomeAbsent})
	require.Error(t, err)
	assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))

	assert.Equal(t, 0, f.attendanceCount())
	got := f.account(acc.ID)
	assert.Equal(t, int64(100000), got.Balance)
	assert.Equal(t, acc.Version, got.Version)
}

func TestOpenAccount(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	acc := f.openAccount(memberID, 100000)
	assert.Equal(t, int64(100000), acc.Balance)
	assert.Equal(t, 0, acc.ExcuseCount)

	events := f.history(acc.ID)
	require.Len(t, events, 1)
	assert.Equal(t, models.DepositInitial, events[0].Type)
	assert.Equal(t, int64(100000), events[0].BalanceAfter)
	assert.Nil(t, events[0].AttendanceID)

	_, err := f.svc.OpenAccount(ctx, attendance.OpenAccountRequest{MemberID: memberID, CohortID: cohortID, InitialDeposit: int64Ptr(1)})
	assert.ErrorIs(t, err, apperror.ErrAccountExists)

	_, err = f.svc.OpenAccount(ctx, attendance.OpenAccountRequest{MemberID: memberID, CohortID: "c2", InitialDeposit: int64Ptr(-1)})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = f.svc.OpenAccount(ctx, attendance.OpenAccountRequest{MemberID: "ghost", CohortID: "c2", InitialDeposit: int64Ptr(1)})
	assert.ErrorIs(t, err, apperror.ErrMemberNotFound)
}

func TestOpenAccount_DefaultDeposit(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	acc, err := f.svc.OpenAccount(ctx, attendance.OpenAccountRequest{MemberID: memberID, CohortID: cohortID})
	require.NoError(t, err)
	assert.Equal(t, attendance.DefaultInitialDeposit, acc.InitialDeposit)
	assert.Equal(t, attendance.DefaultInitialDeposit, acc.Balance)

	events := f.history(acc.ID)
	require.Len(t, events, 1)
	assert.Equal(t, attendance.DefaultInitialDeposit, events[0].Amount)

	f.svc.InitialDeposit = 50000
	acc, err = f.svc.OpenAccount(ctx, attendance.OpenAccountRequest{MemberID: memberID, CohortID: "cohort-8"})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), acc.Balance)

	acc, err = f.svc.OpenAccount(ctx, attendance.OpenAccountRequest{MemberID: memberID, CohortID: "cohort-9", InitialDeposit: int64Ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance)
}

func TestGetDepositHistory_UnknownAccount(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.GetDepositHistory(context.Background(), "missing")
	assert.ErrorIs(t, err, apperror.ErrAccountNotFound)
}

// ---------------- QUERIES ----------------

func TestSummaries(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	acc := f.openAccount(memberID, 100000)
	f.addMember("member-2", models.MemberActive)
	f.openAccount("member-2", 100000)
	f.addSession("s-a", models.SessionCompleted)

	f.now = sessionStart.Add(10 * time.Minute)
	_, err := f.svc.CheckIn(ctx, tokenValue, memberID)
	require.NoError(t, err)
	_, err = f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: "s-a", MemberID: memberID, Outcome: models.OutcomeAbsent})
	require.NoError(t, err)
	_, err = f.svc.RegisterAttendance(ctx, attendance.RegisterRequest{SessionID: sessionID, MemberID: "member-2", Outcome: models.OutcomePresent})
	require.NoError(t, err)

	summary, err := f.svc.GetMemberSummary(ctx, memberID, cohortID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Late)
	assert.Equal(t, 1, summary.Absent)
	assert.Equal(t, int64(15000), summary.TotalPenalty)
	require.NotNil(t, summary.Balance)
	assert.Equal(t, f.account(acc.ID).Balance, *summary.Balance)

	noCohort, err := f.svc.GetMemberSummary(ctx, memberID, "")
	require.NoError(t, err)
	assert.Nil(t, noCohort.Balance)

	rows, err := f.svc.GetSessionSummary(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	list, err := f.svc.ListSessionAttendances(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	mine, err := f.svc.ListMemberAttendances(ctx, memberID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = f.svc.GetSessionSummary(ctx, "missing")
	assert.ErrorIs(t, err, apperror.ErrSessionNotFound)
	_, err = f.svc.GetMemberSummary(ctx, "missing", "")
	assert.ErrorIs(t, err, apperror.ErrMemberNotFound)
}
