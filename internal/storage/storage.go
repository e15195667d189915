package storage

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session doesn't exist
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when creating a session whose ID is taken
var ErrSessionExists = errors.New("session already exists")

// Session is the server-side record behind a browser session cookie.
// Token fields never leave the server except through session-info.
type Session struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	SubjectID string `json:"subject_id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	Email     string `json:"email"`

	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	IDToken      string    `json:"-"`
	TokenExpiry  time.Time `json:"token_expiry"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Expired reports whether the session itself has ended
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// TokenExpired reports whether the access token can no longer be used
func (s *Session) TokenExpired(now time.Time) bool {
	return !s.TokenExpiry.IsZero() && !now.Before(s.TokenExpiry)
}

// Storage persists session records for the session manager
type Storage interface {
	// CreateSession stores a new record; ErrSessionExists if the ID is taken.
	CreateSession(ctx context.Context, session *Session) error
	// GetSession returns a copy of the record or ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (*Session, error)
	// UpdateSession replaces an existing record; ErrSessionNotFound if absent.
	UpdateSession(ctx context.Context, session *Session) error
	// TouchSession records activity on a session.
	TouchSession(ctx context.Context, id string, at time.Time) error
	// DeleteSession removes a record. Deleting a missing record is not an error.
	DeleteSession(ctx context.Context, id string) error
	// CleanupExpiredSessions deletes every record past its ExpiresAt.
	CleanupExpiredSessions(ctx context.Context) (int, error)
	Close() error
}
