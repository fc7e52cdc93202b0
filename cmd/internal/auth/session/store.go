package session

import (
	"context"
	"time"

	"github.com/sasha-gershtein/Sodia/cmd/identity"
)

// Session mirrors a sessions row.
type Session struct {
	ID             string
	UserID         string
	TokenHash      string
	LastActivityIP string
	LastActivityAt time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
	NextUpdateSeq  int64

	// Token is the plaintext bearer token. It is only populated on the value
	// returned by Service.Issue and is never persisted.
	Token string
}

// IsValid reports whether the session is still live at now.
func (s Session) IsValid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// UpdateRecord is one entry in a session's ordered update log.
type UpdateRecord struct {
	SessionID string
	Seq       int64
	Message   string
	CreatedAt time.Time
}

// Store abstracts persistence for session state.
//
// Implementations must advance next_update_seq and insert the update record
// atomically so that sequence numbers are gap-free per session.
type Store interface {
	// Create inserts a new session row. A token hash collision is a *ConflictError.
	Create(ctx context.Context, s Session) error

	// GetByTokenHash loads a session by the hash of its token.
	GetByTokenHash(ctx context.Context, tokenHash string) (Session, error)

	// GetWithOwnerByTokenHash loads a session and its owning user in one
	// query. A session without a complete owner is ErrSessionNotFound.
	GetWithOwnerByTokenHash(ctx context.Context, tokenHash string) (Session, identity.User, error)

	// Touch records activity and moves expires_at in a single statement,
	// returning the updated row.
	Touch(ctx context.Context, sessionID, ip string, now, expiresAt time.Time) (Session, error)

	// AppendUpdate reserves the next sequence number and inserts the record.
	AppendUpdate(ctx context.Context, sessionID, message string, now time.Time) (UpdateRecord, error)

	// ListUpdates returns a session's update records ordered by seq.
	ListUpdates(ctx context.Context, sessionID string) ([]UpdateRecord, error)

	// Delete removes one session and, by cascade, its update records.
	Delete(ctx context.Context, sessionID string) error

	// DeleteByUser removes every session of a user.
	DeleteByUser(ctx context.Context, userID string) (int64, error)

	// DeleteExpired removes sessions whose expires_at is not after now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
