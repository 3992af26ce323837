package member

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-attendance/internal/apperror"
	"ms-attendance/internal/attendance"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
	"ms-attendance/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ms-attendance/internal/member")

// AccountOpener enrolls a member in a cohort with a funded deposit account.
type AccountOpener interface {
	OpenAccount(ctx context.Context, req attendance.OpenAccountRequest) (*models.CohortMemberAccount, error)
}

type Service struct {
	DB       Store
	Accounts AccountOpener
	Now      func() time.Time
	Logger   *logger.Logger
}

func NewService(db Store, accounts AccountOpener, log *logger.Logger) *Service {
	return &Service{
		DB:       db,
		Accounts: accounts,
		Now:      time.Now,
		Logger:   log,
	}
}

// CreateRequest registers a member. With a cohort the member is enrolled
// and the cohort's deposit account is opened.
type CreateRequest struct {
	Name           string `json:"name"`
	CohortID       string `json:"cohort_id,omitempty"`
	InitialDeposit *int64 `json:"initial_deposit,omitempty"`
}

type Created struct {
	Member  *models.Member              `json:"member"`
	Account *models.CohortMemberAccount `json:"account,omitempty"`
}

func (s *Service) CreateMember(ctx context.Context, req CreateRequest) (_ *Created, err error) {
	ctx, span := tracer.Start(ctx, "member.CreateMember", trace.WithAttributes(attribute.String("cohort.id", req.CohortID)))
	defer func() { endSpan(span, err) }()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperror.Invalid("name is required")
	}
	if req.InitialDeposit != nil && req.CohortID == "" {
		return nil, apperror.Invalid("initial_deposit needs a cohort_id")
	}
	if req.InitialDeposit != nil && *req.InitialDeposit < 0 {
		return nil, apperror.Invalid("initial_deposit must not be negative")
	}

	now := s.now()
	m := &models.Member{
		ID:        utils.NewID(),
		Name:      name,
		Status:    models.MemberActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.DB.InsertMember(ctx, m); err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}
	s.Logger.Info("MEMBER", fmt.Sprintf("Created member %s (%s)", m.ID, m.Name))

	created := &Created{Member: m}
	if req.CohortID == "" {
		return created, nil
	}

	// The member row stays when enrollment fails; the account can be opened
	// later through the accounts endpoint.
	created.Account, err = s.Accounts.OpenAccount(ctx, attendance.OpenAccountRequest{
		MemberID:       m.ID,
		CohortID:       req.CohortID,
		InitialDeposit: req.InitialDeposit,
	})
	if err != nil {
		return nil, fmt.Errorf("enroll member %s in %s: %w", m.ID, req.CohortID, err)
	}
	return created, nil
}

func (s *Service) GetMember(ctx context.Context, id string) (*models.Member, error) {
	m, err := s.DB.FindMember(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find member %s: %w", id, err)
	}
	return m, nil
}

func (s *Service) ListMembers(ctx context.Context, status models.MemberStatus) ([]models.Member, error) {
	if status != "" && !status.Valid() {
		return nil, apperror.Invalid(fmt.Sprintf("unknown member status %q", status))
	}
	return s.DB.ListMembers(ctx, status)
}

// WithdrawMember marks the member WITHDRAWN. Attendance records and deposit
// history are kept; further check-ins are refused.
func (s *Service) WithdrawMember(ctx context.Context, id string) (_ *models.Member, err error) {
	ctx, span := tracer.Start(ctx, "member.WithdrawMember", trace.WithAttributes(attribute.String("member.id", id)))
	defer func() { endSpan(span, err) }()

	changed, err := s.DB.Withdraw(ctx, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("withdraw member %s: %w", id, err)
	}

	m, err := s.DB.FindMember(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find member %s: %w", id, err)
	}
	if !changed {
		if m.Withdrawn() {
			return nil, apperror.ErrMemberAlreadyWithdrawn
		}
		return nil, errors.New("member status did not change")
	}

	s.Logger.Info("MEMBER", fmt.Sprintf("Member %s withdrawn", id))
	return m, nil
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
