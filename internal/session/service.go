package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-attendance/internal/apperror"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
	"ms-attendance/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTokenTTL = 24 * time.Hour
	DefaultTimeZone = "Asia/Seoul"
)

var tracer = otel.Tracer("ms-attendance/internal/session")

type Service struct {
	DB       DBLayer
	TokenTTL time.Duration
	TimeZone string
	Now      func() time.Time
	Logger   *logger.Logger
}

func NewService(db DBLayer, log *logger.Logger) *Service {
	return &Service{
		DB:       db,
		TokenTTL: DefaultTokenTTL,
		TimeZone: DefaultTimeZone,
		Now:      time.Now,
		Logger:   log,
	}
}

type CreateRequest struct {
	CohortID string `json:"cohort_id"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	TimeZone string `json:"time_zone,omitempty"`
	Location string `json:"location"`
}

// UpdateRequest is a partial update; nil fields are left as they are.
type UpdateRequest struct {
	Title    *string               `json:"title,omitempty"`
	Date     *string               `json:"date,omitempty"`
	Time     *string               `json:"time,omitempty"`
	TimeZone *string               `json:"time_zone,omitempty"`
	Location *string               `json:"location,omitempty"`
	Status   *models.SessionStatus `json:"status,omitempty"`
}

// Created is a new session with the token for its QR code.
type Created struct {
	Session *models.Session     `json:"session"`
	Token   *models.AccessToken `json:"token"`
}

// CreateSession schedules a session and issues its first access token.
func (s *Service) CreateSession(ctx context.Context, req CreateRequest) (_ *Created, err error) {
	ctx, span := tracer.Start(ctx, "session.CreateSession", trace.WithAttributes(attribute.String("cohort.id", req.CohortID)))
	defer func() { endSpan(span, err) }()

	if req.CohortID == "" || req.Title == "" {
		return nil, apperror.Invalid("cohort_id and title are required")
	}
	zone := req.TimeZone
	if zone == "" {
		zone = s.timeZone()
	}
	if err := validateSchedule(req.Date, req.Time, zone); err != nil {
		return nil, err
	}

	now := s.now()
	created := &Created{
		Session: &models.Session{
			ID:        utils.NewID(),
			CohortID:  req.CohortID,
			Title:     req.Title,
			Date:      req.Date,
			Time:      req.Time,
			TimeZone:  zone,
			Location:  req.Location,
			Status:    models.SessionScheduled,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	created.Token = s.newToken(created.Session.ID, now)

	err = s.DB.WithTx(ctx, func(tx Store) error {
		if err := tx.InsertSession(ctx, created.Session); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if err := tx.InsertToken(ctx, created.Token); err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogSession("CREATE", created.Session.ID, fmt.Sprintf("%s %s %s (%s)", created.Session.Title, created.Session.Date, created.Session.Time, zone))
	return created, nil
}

// UpdateSession applies a partial update. Status changes follow the session
// lifecycle and a move to CANCELLED expires the active token.
func (s *Service) UpdateSession(ctx context.Context, id string, req UpdateRequest) (_ *models.Session, err error) {
	ctx, span := tracer.Start(ctx, "session.UpdateSession", trace.WithAttributes(attribute.String("session.id", id)))
	defer func() { endSpan(span, err) }()

	if req.Status != nil && !req.Status.Valid() {
		return nil, apperror.Invalid(fmt.Sprintf("unknown session status %q", *req.Status))
	}

	now := s.now()
	var session *models.Session
	err = s.DB.WithTx(ctx, func(tx Store) error {
		session, err = tx.LockSession(ctx, id)
		if err != nil {
			return fmt.Errorf("find session %s: %w", id, err)
		}
		if session.Status == models.SessionCancelled {
			return apperror.ErrSessionAlreadyCancelled
		}

		if req.Title != nil {
			if *req.Title == "" {
				return apperror.Invalid("title must not be empty")
			}
			session.Title = *req.Title
		}
		if req.Date != nil {
			session.Date = *req.Date
		}
		if req.Time != nil {
			session.Time = *req.Time
		}
		if req.TimeZone != nil {
			session.TimeZone = *req.TimeZone
		}
		if req.Location != nil {
			session.Location = *req.Location
		}
		if err := validateSchedule(session.Date, session.Time, session.TimeZone); err != nil {
			return err
		}

		if req.Status != nil {
			if !session.Status.CanTransitionTo(*req.Status) {
				return fmt.Errorf("%w: %s -> %s", apperror.ErrInvalidTransition, session.Status, *req.Status)
			}
			if *req.Status == models.SessionCancelled {
				if err := tx.ExpireTokens(ctx, session.ID, now); err != nil {
					return fmt.Errorf("expire tokens: %w", err)
				}
			}
			session.Status = *req.Status
		}

		session.UpdatedAt = now
		return tx.UpdateSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogSession("UPDATE", session.ID, string(session.Status))
	return session, nil
}

// CancelSession marks the session CANCELLED. Records already taken are kept.
func (s *Service) CancelSession(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "session.CancelSession", trace.WithAttributes(attribute.String("session.id", id)))
	defer func() { endSpan(span, err) }()

	now := s.now()
	err = s.DB.WithTx(ctx, func(tx Store) error {
		session, err := tx.LockSession(ctx, id)
		if err != nil {
			return fmt.Errorf("find session %s: %w", id, err)
		}
		if session.Status == models.SessionCancelled {
			return apperror.ErrSessionAlreadyCancelled
		}
		if !session.Status.CanTransitionTo(models.SessionCancelled) {
			return fmt.Errorf("%w: %s -> %s", apperror.ErrInvalidTransition, session.Status, models.SessionCancelled)
		}
		if err := tx.ExpireTokens(ctx, session.ID, now); err != nil {
			return fmt.Errorf("expire tokens: %w", err)
		}
		session.Status = models.SessionCancelled
		session.UpdatedAt = now
		return tx.UpdateSession(ctx, session)
	})
	if err != nil {
		return err
	}

	s.Logger.LogSession("CANCEL", id, "session cancelled")
	return nil
}

func (s *Service) GetSession(ctx context.Context, id string) (*models.SessionOverview, error) {
	session, err := s.DB.FindSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", id, err)
	}
	overviews, err := s.overview(ctx, []models.Session{*session})
	if err != nil {
		return nil, err
	}
	return &overviews[0], nil
}

// ListSessions returns sessions matching filter, soonest first, each with
// its attendance roll-up.
func (s *Service) ListSessions(ctx context.Context, filter models.SessionFilter) ([]models.SessionOverview, error) {
	if filter.DateFrom != "" && !utils.ValidDate(filter.DateFrom) {
		return nil, apperror.Invalid("date_from must be YYYY-MM-DD")
	}
	if filter.DateTo != "" && !utils.ValidDate(filter.DateTo) {
		return nil, apperror.Invalid("date_to must be YYYY-MM-DD")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperror.Invalid(fmt.Sprintf("unknown session status %q", filter.Status))
	}

	sessions, err := s.DB.ListSessions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return s.overview(ctx, sessions)
}

// IssueToken creates an access token for a session that has none active.
func (s *Service) IssueToken(ctx context.Context, sessionID string) (_ *models.AccessToken, err error) {
	ctx, span := tracer.Start(ctx, "session.IssueToken", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer func() { endSpan(span, err) }()

	now := s.now()
	var token *models.AccessToken
	err = s.DB.WithTx(ctx, func(tx Store) error {
		session, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("find session %s: %w", sessionID, err)
		}
		if session.Status == models.SessionCancelled {
			return apperror.ErrSessionAlreadyCancelled
		}

		_, err = tx.ActiveToken(ctx, session.ID, now)
		switch {
		case err == nil:
			return apperror.ErrActiveTokenExists
		case !errors.Is(err, apperror.ErrTokenNotFound):
			return fmt.Errorf("find active token: %w", err)
		}

		token = s.newToken(session.ID, now)
		return tx.InsertToken(ctx, token)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogSession("TOKEN", sessionID, "issued token "+token.ID)
	return token, nil
}

// RenewToken expires the given token and every other token of its session
// that is still valid, then issues a fresh one.
func (s *Service) RenewToken(ctx context.Context, tokenID string) (_ *models.AccessToken, err error) {
	ctx, span := tracer.Start(ctx, "session.RenewToken", trace.WithAttributes(attribute.String("token.id", tokenID)))
	defer func() { endSpan(span, err) }()

	now := s.now()
	var token *models.AccessToken
	err = s.DB.WithTx(ctx, func(tx Store) error {
		old, err := tx.FindToken(ctx, tokenID)
		if err != nil {
			return fmt.Errorf("find token %s: %w", tokenID, err)
		}
		session, err := tx.LockSession(ctx, old.SessionID)
		if err != nil {
			return fmt.Errorf("find session %s: %w", old.SessionID, err)
		}
		if session.Status == models.SessionCancelled {
			return apperror.ErrSessionAlreadyCancelled
		}
		if err := tx.ExpireTokens(ctx, session.ID, now); err != nil {
			return fmt.Errorf("expire tokens: %w", err)
		}

		token = s.newToken(session.ID, now)
		return tx.InsertToken(ctx, token)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogSession("TOKEN", token.SessionID, fmt.Sprintf("renewed %s -> %s", tokenID, token.ID))
	return token, nil
}

func (s *Service) overview(ctx context.Context, sessions []models.Session) ([]models.SessionOverview, error) {
	ids := make([]string, len(sessions))
	for i := range sessions {
		ids[i] = sessions[i].ID
	}

	counts, err := s.DB.AttendanceCounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("attendance counts: %w", err)
	}
	active, err := s.DB.ActiveTokenSessions(ctx, ids, s.now())
	if err != nil {
		return nil, fmt.Errorf("active tokens: %w", err)
	}

	out := make([]models.SessionOverview, len(sessions))
	for i, session := range sessions {
		count := counts[session.ID]
		count.SessionID = session.ID
		out[i] = models.SessionOverview{
			Session:        session,
			Attendance:     count,
			HasActiveToken: active[session.ID],
		}
	}
	return out, nil
}

func (s *Service) newToken(sessionID string, now time.Time) *models.AccessToken {
	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &models.AccessToken{
		ID:        utils.NewID(),
		SessionID: sessionID,
		Value:     utils.NewTokenValue(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) timeZone() string {
	if s.TimeZone == "" {
		return DefaultTimeZone
	}
	return s.TimeZone
}

func validateSchedule(date, clock, zone string) error {
	if !utils.ValidDate(date) {
		return apperror.Invalid("date must be YYYY-MM-DD")
	}
	if !utils.ValidClock(clock) {
		return apperror.Invalid("time must be HH:MM")
	}
	if _, err := time.LoadLocation(zone); err != nil || zone == "" {
		return apperror.Invalid(fmt.Sprintf("unknown time zone %q", zone))
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
