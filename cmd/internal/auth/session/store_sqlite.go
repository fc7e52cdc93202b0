package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sasha-gershtein/Sodia/cmd/identity"
	"github.com/sasha-gershtein/Sodia/cmd/internal/storage"
)

// SQLiteStore implements Store on an embedded SQLite database opened with
// storage.OpenSQLite. Timestamps are stored as unix microseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db. The handle is owned by the caller.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteSessionColumns = `id, user_id, token_hash, last_activity_ip, last_activity_at,
	expires_at, created_at, next_update_seq`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (Session, error) {
	var (
		s                   Session
		lastAt, exp, create int64
	)
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.TokenHash,
		&s.LastActivityIP,
		&lastAt,
		&exp,
		&create,
		&s.NextUpdateSeq,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	s.LastActivityAt = time.UnixMicro(lastAt).UTC()
	s.ExpiresAt = time.UnixMicro(exp).UTC()
	s.CreatedAt = time.UnixMicro(create).UTC()
	return s, nil
}

// Create inserts a new session row.
func (s *SQLiteStore) Create(ctx context.Context, sess Session) error {
	const op = "session.Create"

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, user_id, token_hash, last_activity_ip, last_activity_at,
			expires_at, created_at, next_update_seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sess.ID, sess.UserID, sess.TokenHash, sess.LastActivityIP, sess.LastActivityAt.UnixMicro(),
		sess.ExpiresAt.UnixMicro(), sess.CreatedAt.UnixMicro(), sess.NextUpdateSeq,
	)
	if err != nil {
		if cols, ok := storage.SQLiteUniqueViolation(err); ok {
			return &ConflictError{Op: op, Constraint: cols}
		}
		if storage.SQLiteForeignKeyViolation(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetByTokenHash loads a session by token hash.
func (s *SQLiteStore) GetByTokenHash(ctx context.Context, tokenHash string) (Session, error) {
	return scanSQLiteSession(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteSessionColumns+`
		FROM sessions
		WHERE token_hash = ?
	`, tokenHash))
}

// GetWithOwnerByTokenHash loads a session and its owner by token hash.
func (s *SQLiteStore) GetWithOwnerByTokenHash(ctx context.Context, tokenHash string) (Session, identity.User, error) {
	var (
		sess                    Session
		u                       identity.User
		flag                    string
		lastAt, exp, create     int64
		userAt, emailAt, passAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, s.token_hash, s.last_activity_ip, s.last_activity_at,
		       s.expires_at, s.created_at, s.next_update_seq,
		       u.id, u.created_at, u.is_activated, u.account_flag,
		       l.email, l.email_norm, l.is_email_verified, l.email_changed_at, l.password_changed_at,
		       a.username, a.first_name, a.last_name
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		JOIN user_login_details l ON l.user_id = u.id
		JOIN user_account_settings a ON a.user_id = u.id
		WHERE s.token_hash = ?
	`, tokenHash).Scan(
		&sess.ID, &sess.UserID, &sess.TokenHash, &sess.LastActivityIP, &lastAt,
		&exp, &create, &sess.NextUpdateSeq,
		&u.ID, &userAt, &u.IsActivated, &flag,
		&u.Email, &u.EmailNorm, &u.IsEmailVerified, &emailAt, &passAt,
		&u.Username, &u.FirstName, &u.LastName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, identity.User{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, identity.User{}, fmt.Errorf("session.GetWithOwner: %w", err)
	}
	sess.LastActivityAt = time.UnixMicro(lastAt).UTC()
	sess.ExpiresAt = time.UnixMicro(exp).UTC()
	sess.CreatedAt = time.UnixMicro(create).UTC()
	u.AccountFlag = identity.AccountFlag(flag)
	u.CreatedAt = time.UnixMicro(userAt).UTC()
	u.EmailChangedAt = time.UnixMicro(emailAt).UTC()
	u.PasswordChangedAt = time.UnixMicro(passAt).UTC()
	return sess, u, nil
}

// Touch updates last activity and expiry in one statement.
func (s *SQLiteStore) Touch(ctx context.Context, sessionID, ip string, now, expiresAt time.Time) (Session, error) {
	return scanSQLiteSession(s.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET last_activity_ip = ?,
		    last_activity_at = ?,
		    expires_at = ?
		WHERE id = ?
		RETURNING `+sqliteSessionColumns,
		ip, now.UnixMicro(), expiresAt.UnixMicro(), sessionID,
	))
}

// AppendUpdate reserves the next sequence number and inserts the record in
// one transaction. The connection DSN opens transactions with BEGIN
// IMMEDIATE, so concurrent appenders queue on the write lock.
func (s *SQLiteStore) AppendUpdate(ctx context.Context, sessionID, message string, now time.Time) (UpdateRecord, error) {
	const op = "session.AppendUpdate"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpdateRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		UPDATE sessions
		SET next_update_seq = next_update_seq + 1
		WHERE id = ?
		RETURNING next_update_seq - 1
	`, sessionID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return UpdateRecord{}, ErrSessionNotFound
	}
	if err != nil {
		return UpdateRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_updates (session_id, seq, message, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, seq, message, now.UnixMicro())
	if err != nil {
		if cols, ok := storage.SQLiteUniqueViolation(err); ok {
			return UpdateRecord{}, &ConflictError{Op: op, Constraint: cols}
		}
		return UpdateRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return UpdateRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return UpdateRecord{
		SessionID: sessionID,
		Seq:       seq,
		Message:   message,
		CreatedAt: now,
	}, nil
}

// ListUpdates returns update records ordered by seq.
func (s *SQLiteStore) ListUpdates(ctx context.Context, sessionID string) ([]UpdateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, message, created_at
		FROM session_updates
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session.ListUpdates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]UpdateRecord, 0)
	for rows.Next() {
		var (
			r  UpdateRecord
			at int64
		)
		if err := rows.Scan(&r.SessionID, &r.Seq, &r.Message, &at); err != nil {
			return nil, fmt.Errorf("session.ListUpdates: %w", err)
		}
		r.CreatedAt = time.UnixMicro(at).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session.ListUpdates: %w", err)
	}
	return out, nil
}

// Delete removes one session.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("session.Delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session.Delete: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteByUser removes every session of a user.
func (s *SQLiteStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("session.DeleteByUser: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes sessions with expires_at <= now.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("session.DeleteExpired: %w", err)
	}
	return res.RowsAffected()
}
