package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-attendance/internal/apperror"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
	"ms-attendance/internal/penalty"
	"ms-attendance/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultExcuseLimit          = 3
	DefaultTimeZone             = "Asia/Seoul"
	DefaultInitialDeposit int64 = 100000
)

var tracer = otel.Tracer("ms-attendance/internal/attendance")

type Service struct {
	DB          DBLayer
	Locker      Locker
	Publisher   EventPublisher
	Policy      penalty.Policy
	ExcuseLimit int
	// InitialDeposit funds accounts opened without an explicit amount.
	InitialDeposit int64
	// TimeZone applies to sessions stored without one.
	TimeZone string
	Now      func() time.Time
	Logger   *logger.Logger
}

func NewService(db DBLayer, locker Locker, publisher EventPublisher, log *logger.Logger) *Service {
	return &Service{
		DB:             db,
		Locker:         locker,
		Publisher:      publisher,
		Policy:         penalty.Default(),
		ExcuseLimit:    DefaultExcuseLimit,
		InitialDeposit: DefaultInitialDeposit,
		TimeZone:       DefaultTimeZone,
		Now:            time.Now,
		Logger:         log,
	}
}

type RegisterRequest struct {
	SessionID   string         `json:"session_id"`
	MemberID    string         `json:"member_id"`
	Outcome     models.Outcome `json:"outcome"`
	LateMinutes *int           `json:"late_minutes,omitempty"`
	Reason      *string        `json:"reason,omitempty"`
}

type UpdateRequest struct {
	Outcome     models.Outcome `json:"outcome"`
	LateMinutes *int           `json:"late_minutes,omitempty"`
	Reason      *string        `json:"reason,omitempty"`
}

type OpenAccountRequest struct {
	MemberID       string `json:"member_id"`
	CohortID       string `json:"cohort_id"`
	// InitialDeposit falls back to Service.InitialDeposit when nil.
	InitialDeposit *int64 `json:"initial_deposit,omitempty"`
}

// ---------------- CHECK-IN ----------------

// CheckIn records a self-service check-in with the token from a session's
// QR code. The outcome is PRESENT up to the scheduled start and LATE after
// it; a late penalty is debited in the same transaction as the record.
func (s *Service) CheckIn(ctx context.Context, tokenValue, memberID string) (_ *models.Attendance, err error) {
	ctx, span := tracer.Start(ctx, "attendance.CheckIn", trace.WithAttributes(attribute.String("member.id", memberID)))
	defer func() { endSpan(span, err) }()

	if tokenValue == "" || memberID == "" {
		return nil, apperror.Invalid("token and member_id are required")
	}

	token, err := s.DB.FindTokenByValue(ctx, tokenValue)
	if errors.Is(err, apperror.ErrTokenNotFound) {
		return nil, apperror.ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("find token: %w", err)
	}
	if token.ExpiredAt(s.now()) {
		return nil, apperror.ErrTokenExpired
	}

	session, err := s.DB.FindSession(ctx, token.SessionID)
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", token.SessionID, err)
	}
	if !session.Status.AcceptsCheckIn() {
		return nil, apperror.ErrSessionNotAcceptingCheckIn
	}

	member, err := s.DB.FindMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("find member %s: %w", memberID, err)
	}
	if member.Withdrawn() {
		return nil, apperror.ErrMemberWithdrawn
	}

	scheduled, err := s.scheduledAt(session)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, session.ID, member.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Expiry and lateness are judged at the instant the lock is held, not
	// when the request arrived.
	now := s.now()
	if token.ExpiredAt(now) {
		return nil, apperror.ErrTokenExpired
	}

	var (
		record *models.Attendance
		acc    *models.CohortMemberAccount
		entry  *models.DepositEvent
	)
	err = s.DB.WithTx(ctx, func(tx Store) error {
		if err := ensureNoAttendance(ctx, tx, session.ID, member.ID); err != nil {
			return err
		}

		acc, err = tx.FindAccount(ctx, member.ID, session.CohortID)
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}

		outcome := models.OutcomePresent
		var lateMinutes *int
		if mins, late := utils.LateMinutes(scheduled, now); late {
			outcome = models.OutcomeLate
			lateMinutes = &mins
		}

		amount, err := s.penalty(outcome, lateMinutes)
		if err != nil {
			return err
		}
		if amount > acc.Balance {
			return apperror.ErrInsufficientDeposit
		}

		record = &models.Attendance{
			ID:          utils.NewID(),
			SessionID:   session.ID,
			MemberID:    member.ID,
			TokenID:     &token.ID,
			Outcome:     outcome,
			LateMinutes: lateMinutes,
			Penalty:     amount,
			CheckedInAt: &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertAttendance(ctx, record); err != nil {
			return err
		}

		if amount == 0 {
			return nil
		}
		acc.Balance -= amount
		entry, err = commitAccount(ctx, tx, acc, -amount, record.ID, describeCharge(outcome, lateMinutes), now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogAttendance("CHECK_IN", record.ID, fmt.Sprintf("member %s session %s %s", member.ID, session.ID, record.Outcome))
	s.publish(ctx, s.recordedEvent(record, acc, entry, models.EventAttendanceRecorded))
	return record, nil
}

// ---------------- ADMIN ----------------

// RegisterAttendance records an outcome decided by an administrator. EXCUSED
// consumes one of the account's excuses.
func (s *Service) RegisterAttendance(ctx context.Context, req RegisterRequest) (_ *models.Attendance, err error) {
	ctx, span := tracer.Start(ctx, "attendance.RegisterAttendance", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("member.id", req.MemberID),
		attribute.String("outcome", string(req.Outcome)),
	))
	defer func() { endSpan(span, err) }()

	if req.SessionID == "" || req.MemberID == "" {
		return nil, apperror.Invalid("session_id and member_id are required")
	}
	lateMinutes, err := normalizeOutcome(req.Outcome, req.LateMinutes)
	if err != nil {
		return nil, err
	}

	session, err := s.DB.FindSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", req.SessionID, err)
	}
	if _, err := s.DB.FindMember(ctx, req.MemberID); err != nil {
		return nil, fmt.Errorf("find member %s: %w", req.MemberID, err)
	}

	release, err := s.lock(ctx, session.ID, req.MemberID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	var (
		record *models.Attendance
		acc    *models.CohortMemberAccount
		entry  *models.DepositEvent
	)
	err = s.DB.WithTx(ctx, func(tx Store) error {
		if err := ensureNoAttendance(ctx, tx, session.ID, req.MemberID); err != nil {
			return err
		}

		acc, err = tx.FindAccount(ctx, req.MemberID, session.CohortID)
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}

		excused := req.Outcome == models.OutcomeExcused
		if excused && acc.ExcuseCount >= s.ExcuseLimit {
			return apperror.ErrExcuseLimitExceeded
		}

		amount, err := s.penalty(req.Outcome, lateMinutes)
		if err != nil {
			return err
		}
		if amount > acc.Balance {
			return apperror.ErrInsufficientDeposit
		}

		record = &models.Attendance{
			ID:          utils.NewID(),
			SessionID:   session.ID,
			MemberID:    req.MemberID,
			Outcome:     req.Outcome,
			LateMinutes: lateMinutes,
			Penalty:     amount,
			Reason:      req.Reason,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertAttendance(ctx, record); err != nil {
			return err
		}

		if amount == 0 && !excused {
			return nil
		}
		if excused {
			acc.ExcuseCount++
		}
		acc.Balance -= amount
		entry, err = commitAccount(ctx, tx, acc, -amount, record.ID, describeCharge(req.Outcome, lateMinutes), now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogAttendance("REGISTER", record.ID, fmt.Sprintf("member %s session %s %s", record.MemberID, record.SessionID, record.Outcome))
	s.publish(ctx, s.recordedEvent(record, acc, entry, models.EventAttendanceRecorded))
	return record, nil
}

// UpdateAttendance corrects an existing record. The penalty difference is
// netted into a single PENALTY or REFUND entry and the excuse counter
// follows transitions into and out of EXCUSED.
func (s *Service) UpdateAttendance(ctx context.Context, attendanceID string, req UpdateRequest) (_ *models.Attendance, err error) {
	ctx, span := tracer.Start(ctx, "attendance.UpdateAttendance", trace.WithAttributes(
		attribute.String("attendance.id", attendanceID),
		attribute.String("outcome", string(req.Outcome)),
	))
	defer func() { endSpan(span, err) }()

	if attendanceID == "" {
		return nil, apperror.Invalid("attendance id is required")
	}
	lateMinutes, err := normalizeOutcome(req.Outcome, req.LateMinutes)
	if err != nil {
		return nil, err
	}

	current, err := s.DB.FindAttendance(ctx, attendanceID)
	if err != nil {
		return nil, fmt.Errorf("find attendance %s: %w", attendanceID, err)
	}
	session, err := s.DB.FindSession(ctx, current.SessionID)
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", current.SessionID, err)
	}

	release, err := s.lock(ctx, current.SessionID, current.MemberID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	var (
		record   *models.Attendance
		acc      *models.CohortMemberAccount
		entry    *models.DepositEvent
		previous models.Outcome
	)
	err = s.DB.WithTx(ctx, func(tx Store) error {
		record, err = tx.FindAttendance(ctx, attendanceID)
		if err != nil {
			return fmt.Errorf("find attendance %s: %w", attendanceID, err)
		}
		acc, err = tx.FindAccount(ctx, record.MemberID, session.CohortID)
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}
		previous = record.Outcome

		excuseCount := acc.ExcuseCount
		wasExcused := record.Outcome == models.OutcomeExcused
		nowExcused := req.Outcome == models.OutcomeExcused
		switch {
		case nowExcused && !wasExcused:
			if excuseCount >= s.ExcuseLimit {
				return apperror.ErrExcuseLimitExceeded
			}
			excuseCount++
		case wasExcused && !nowExcused && excuseCount > 0:
			excuseCount--
		}

		newPenalty, err := s.penalty(req.Outcome, lateMinutes)
		if err != nil {
			return err
		}
		diff := newPenalty - record.Penalty
		if diff > 0 && diff > acc.Balance {
			return apperror.ErrInsufficientDeposit
		}
		if diff < 0 && acc.Balance-diff > acc.InitialDeposit {
			return fmt.Errorf("%w: refund of %d would lift balance %d above initial deposit %d",
				apperror.ErrLedgerInvariant, -diff, acc.Balance, acc.InitialDeposit)
		}

		record.Outcome = req.Outcome
		record.LateMinutes = lateMinutes
		record.Penalty = newPenalty
		if req.Reason != nil {
			record.Reason = req.Reason
		}
		record.UpdatedAt = now
		if err := tx.UpdateAttendance(ctx, record); err != nil {
			return fmt.Errorf("update attendance: %w", err)
		}

		if diff == 0 && excuseCount == acc.ExcuseCount {
			return nil
		}
		acc.ExcuseCount = excuseCount
		acc.Balance -= diff
		entry, err = commitAccount(ctx, tx, acc, -diff, record.ID, describeCorrection(previous, req.Outcome, diff), now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogAttendance("UPDATE", record.ID, fmt.Sprintf("%s -> %s", previous, record.Outcome))
	s.publish(ctx, s.recordedEvent(record, acc, entry, models.EventAttendanceCorrected))
	return record, nil
}

// OpenAccount enrolls a member in a cohort and writes the INITIAL ledger
// entry. Without an explicit amount the configured deposit is used.
func (s *Service) OpenAccount(ctx context.Context, req OpenAccountRequest) (_ *models.CohortMemberAccount, err error) {
	ctx, span := tracer.Start(ctx, "attendance.OpenAccount", trace.WithAttributes(
		attribute.String("member.id", req.MemberID),
		attribute.String("cohort.id", req.CohortID),
	))
	defer func() { endSpan(span, err) }()

	if req.MemberID == "" || req.CohortID == "" {
		return nil, apperror.Invalid("member_id and cohort_id are required")
	}
	deposit := s.InitialDeposit
	if req.InitialDeposit != nil {
		deposit = *req.InitialDeposit
	}
	if deposit < 0 {
		return nil, apperror.Invalid("initial_deposit must not be negative")
	}
	if _, err := s.DB.FindMember(ctx, req.MemberID); err != nil {
		return nil, fmt.Errorf("find member %s: %w", req.MemberID, err)
	}

	now := s.now()
	acc := &models.CohortMemberAccount{
		ID:             utils.NewID(),
		MemberID:       req.MemberID,
		CohortID:       req.CohortID,
		InitialDeposit: deposit,
		Balance:        deposit,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	entry := &models.DepositEvent{
		ID:           utils.NewID(),
		AccountID:    acc.ID,
		Seq:          acc.Version,
		Type:         models.DepositInitial,
		Amount:       deposit,
		BalanceAfter: deposit,
		Description:  "initial deposit",
		CreatedAt:    now,
	}

	err = s.DB.WithTx(ctx, func(tx Store) error {
		_, err := tx.FindAccount(ctx, req.MemberID, req.CohortID)
		switch {
		case err == nil:
			return apperror.ErrAccountExists
		case !errors.Is(err, apperror.ErrAccountNotFound):
			return fmt.Errorf("find account: %w", err)
		}
		if err := tx.InsertAccount(ctx, acc); err != nil {
			return err
		}
		if err := tx.AppendDepositEvent(ctx, entry); err != nil {
			return fmt.Errorf("append deposit event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogLedger(acc.ID, entry.Amount, entry.BalanceAfter, entry.Description)
	s.publish(ctx, depositEvent(acc, entry))
	return acc, nil
}

// ---------------- QUERIES ----------------

// GetDepositHistory returns an account's ledger oldest first.
func (s *Service) GetDepositHistory(ctx context.Context, accountID string) ([]models.DepositEvent, error) {
	if _, err := s.DB.FindAccountByID(ctx, accountID); err != nil {
		return nil, fmt.Errorf("find account %s: %w", accountID, err)
	}
	events, err := s.DB.ListDepositEvents(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list deposit events: %w", err)
	}
	return events, nil
}

// GetMemberSummary tallies a member's records. With a cohort it is limited
// to that cohort's sessions and carries the account balance.
func (s *Service) GetMemberSummary(ctx context.Context, memberID, cohortID string) (*models.AttendanceSummary, error) {
	if _, err := s.DB.FindMember(ctx, memberID); err != nil {
		return nil, fmt.Errorf("find member %s: %w", memberID, err)
	}
	summary, err := s.DB.MemberSummary(ctx, memberID, cohortID)
	if err != nil {
		return nil, fmt.Errorf("member summary: %w", err)
	}
	if cohortID == "" {
		return summary, nil
	}

	acc, err := s.DB.FindAccount(ctx, memberID, cohortID)
	switch {
	case err == nil:
		summary.Balance = &acc.Balance
	case !errors.Is(err, apperror.ErrAccountNotFound):
		return nil, fmt.Errorf("find account: %w", err)
	}
	return summary, nil
}

// GetSessionSummary tallies every enrolled member of the session's cohort.
func (s *Service) GetSessionSummary(ctx context.Context, sessionID string) ([]models.MemberAttendanceSummary, error) {
	session, err := s.DB.FindSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", sessionID, err)
	}
	rows, err := s.DB.CohortSummary(ctx, session.CohortID)
	if err != nil {
		return nil, fmt.Errorf("cohort summary: %w", err)
	}
	return rows, nil
}

func (s *Service) ListSessionAttendances(ctx context.Context, sessionID string) ([]models.Attendance, error) {
	if _, err := s.DB.FindSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("find session %s: %w", sessionID, err)
	}
	return s.DB.ListAttendancesBySession(ctx, sessionID)
}

func (s *Service) ListMemberAttendances(ctx context.Context, memberID string) ([]models.Attendance, error) {
	if _, err := s.DB.FindMember(ctx, memberID); err != nil {
		return nil, fmt.Errorf("find member %s: %w", memberID, err)
	}
	return s.DB.ListAttendancesByMember(ctx, memberID)
}

// ---------------- HELPERS ----------------

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// penalty rejects a negative amount, which would turn a charge into a credit.
func (s *Service) penalty(outcome models.Outcome, lateMinutes *int) (int64, error) {
	amount := s.Policy.Amount(outcome, lateMinutes)
	if amount < 0 {
		return 0, fmt.Errorf("%w: negative penalty %d for %s", apperror.ErrLedgerInvariant, amount, outcome)
	}
	return amount, nil
}

func (s *Service) scheduledAt(session *models.Session) (time.Time, error) {
	zone := session.TimeZone
	if zone == "" {
		zone = s.TimeZone
	}
	if zone == "" {
		zone = DefaultTimeZone
	}
	at, err := utils.ScheduledInstant(session.Date, session.Time, zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("session %s schedule: %w", session.ID, err)
	}
	return at, nil
}

func (s *Service) lock(ctx context.Context, sessionID, memberID string) (func(), error) {
	if s.Locker == nil {
		return func() {}, nil
	}
	release, err := s.Locker.Acquire(ctx, "attendance:"+sessionID+":"+memberID)
	if err != nil {
		return nil, err
	}
	return release, nil
}

func (s *Service) publish(ctx context.Context, events ...models.AttendanceEvent) {
	if s.Publisher == nil {
		return
	}
	for _, e := range events {
		if err := s.Publisher.Publish(ctx, e); err != nil {
			s.Logger.Error("EVENTS", fmt.Sprintf("Failed to publish %s for %s: %v", e.Type, e.Key(), err))
		}
	}
}

func (s *Service) recordedEvent(record *models.Attendance, acc *models.CohortMemberAccount, entry *models.DepositEvent, typ models.AttendanceEventType) models.AttendanceEvent {
	e := models.AttendanceEvent{
		Type:         typ,
		AttendanceID: record.ID,
		SessionID:    record.SessionID,
		MemberID:     record.MemberID,
		AccountID:    acc.ID,
		Outcome:      record.Outcome,
		Penalty:      record.Penalty,
		BalanceAfter: acc.Balance,
		OccurredAt:   record.UpdatedAt,
	}
	if entry != nil {
		e.Amount = entry.Amount
		s.Logger.LogLedger(acc.ID, entry.Amount, entry.BalanceAfter, entry.Description)
	}
	return e
}

func depositEvent(acc *models.CohortMemberAccount, entry *models.DepositEvent) models.AttendanceEvent {
	return models.AttendanceEvent{
		Type:         models.EventDepositChanged,
		MemberID:     acc.MemberID,
		AccountID:    acc.ID,
		Amount:       entry.Amount,
		BalanceAfter: entry.BalanceAfter,
		OccurredAt:   entry.CreatedAt,
	}
}

func ensureNoAttendance(ctx context.Context, tx Store, sessionID, memberID string) error {
	exists, err := tx.AttendanceExists(ctx, sessionID, memberID)
	if err != nil {
		return fmt.Errorf("check attendance: %w", err)
	}
	if exists {
		return apperror.ErrDuplicateAttendance
	}
	return nil
}

// commitAccount persists acc, whose balance already includes amount, and
// appends the ledger line for a non-zero amount. Negative amounts are
// penalties.
func commitAccount(ctx context.Context, tx Store, acc *models.CohortMemberAccount, amount int64, attendanceID, description string, now time.Time) (*models.DepositEvent, error) {
	acc.UpdatedAt = now
	if err := tx.UpdateAccount(ctx, acc); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, nil
	}

	typ := models.DepositPenalty
	if amount > 0 {
		typ = models.DepositRefund
	}
	entry := &models.DepositEvent{
		ID:           utils.NewID(),
		AccountID:    acc.ID,
		Seq:          acc.Version,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: acc.Balance,
		AttendanceID: &attendanceID,
		Description:  description,
		CreatedAt:    now,
	}
	if err := tx.AppendDepositEvent(ctx, entry); err != nil {
		return nil, fmt.Errorf("append deposit event: %w", err)
	}
	return entry, nil
}

// normalizeOutcome validates the outcome and drops late minutes from
// anything but LATE.
func normalizeOutcome(outcome models.Outcome, lateMinutes *int) (*int, error) {
	if !outcome.Valid() {
		return nil, apperror.Invalid(fmt.Sprintf("unknown outcome %q", outcome))
	}
	if lateMinutes != nil && *lateMinutes < 0 {
		return nil, apperror.Invalid("late_minutes must not be negative")
	}
	if outcome != models.OutcomeLate {
		return nil, nil
	}
	return lateMinutes, nil
}

func describeCharge(outcome models.Outcome, lateMinutes *int) string {
	switch outcome {
	case models.OutcomeLate:
		if lateMinutes != nil {
			return fmt.Sprintf("late penalty (%d min)", *lateMinutes)
		}
		return "late penalty"
	case models.OutcomeAbsent:
		return "absence penalty"
	}
	return string(outcome)
}

func describeCorrection(from, to models.Outcome, diff int64) string {
	if diff < 0 {
		return fmt.Sprintf("refund for correction %s -> %s", from, to)
	}
	return fmt.Sprintf("penalty adjustment %s -> %s", from, to)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
