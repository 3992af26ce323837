package session

import (
	"context"
	"time"

	"ms-attendance/internal/models"
)

// Store persists sessions and their access tokens. Lookups return the
// apperror not-found sentinels.
type Store interface {
	FindSession(ctx context.Context, id string) (*models.Session, error)
	// LockSession reads the session and, inside a transaction on a dialect
	// with row locks, holds it until commit.
	LockSession(ctx context.Context, id string) (*models.Session, error)
	InsertSession(ctx context.Context, s *models.Session) error
	UpdateSession(ctx context.Context, s *models.Session) error
	ListSessions(ctx context.Context, filter models.SessionFilter) ([]models.Session, error)
	AttendanceCounts(ctx context.Context, sessionIDs []string) (map[string]models.SessionAttendanceCount, error)

	FindToken(ctx context.Context, id string) (*models.AccessToken, error)
	// ActiveToken returns the session's token still valid at now, or
	// ErrTokenNotFound.
	ActiveToken(ctx context.Context, sessionID string, now time.Time) (*models.AccessToken, error)
	ActiveTokenSessions(ctx context.Context, sessionIDs []string, now time.Time) (map[string]bool, error)
	InsertToken(ctx context.Context, t *models.AccessToken) error
	// ExpireTokens pulls the expiry of every token of the session that is
	// still valid at now back to now.
	ExpireTokens(ctx context.Context, sessionID string, now time.Time) error
}

type DBLayer interface {
	Store
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
