package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sasha-gershtein/Sodia/cmd/identity"
	"github.com/sasha-gershtein/Sodia/cmd/internal/storage"
)

// PostgresStore implements Store using PostgreSQL (sodia.sessions and
// sodia.session_updates). The pool is owned by the caller.
type PostgresStore struct {
	pool *pgxpool.Pool

	sessions string
	updates  string
	users    string
	logins   string
	accounts string
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:     pool,
		sessions: storage.PgIdent(storage.DefaultSchema, "sessions"),
		updates:  storage.PgIdent(storage.DefaultSchema, "session_updates"),
		users:    storage.PgIdent(storage.DefaultSchema, "users"),
		logins:   storage.PgIdent(storage.DefaultSchema, "user_login_details"),
		accounts: storage.PgIdent(storage.DefaultSchema, "user_account_settings"),
	}
}

const pgSessionColumns = `id, user_id, token_hash, last_activity_ip, last_activity_at,
	expires_at, created_at, next_update_seq`

func scanPgSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.TokenHash,
		&s.LastActivityIP,
		&s.LastActivityAt,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.NextUpdateSeq,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	s.LastActivityAt = s.LastActivityAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, sess Session) error {
	const op = "session.Create"

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.sessions+` (
			id, user_id, token_hash, last_activity_ip, last_activity_at,
			expires_at, created_at, next_update_seq
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		sess.ID, sess.UserID, sess.TokenHash, sess.LastActivityIP, sess.LastActivityAt,
		sess.ExpiresAt, sess.CreatedAt, sess.NextUpdateSeq,
	)
	if err != nil {
		if c, ok := storage.PgUniqueViolation(err); ok {
			return &ConflictError{Op: op, Constraint: c}
		}
		if storage.PgForeignKeyViolation(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetByTokenHash loads a session by token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Session, error) {
	return scanPgSession(s.pool.QueryRow(ctx, `
		SELECT `+pgSessionColumns+`
		FROM `+s.sessions+`
		WHERE token_hash = $1
	`, tokenHash))
}

// GetWithOwnerByTokenHash loads a session and its owner by token hash.
func (s *PostgresStore) GetWithOwnerByTokenHash(ctx context.Context, tokenHash string) (Session, identity.User, error) {
	var (
		sess Session
		u    identity.User
		flag string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT s.id, s.user_id, s.token_hash, s.last_activity_ip, s.last_activity_at,
		       s.expires_at, s.created_at, s.next_update_seq,
		       u.id, u.created_at, u.is_activated, u.account_flag,
		       l.email, l.email_norm, l.is_email_verified, l.email_changed_at, l.password_changed_at,
		       a.username, a.first_name, a.last_name
		FROM `+s.sessions+` s
		JOIN `+s.users+` u ON u.id = s.user_id
		JOIN `+s.logins+` l ON l.user_id = u.id
		JOIN `+s.accounts+` a ON a.user_id = u.id
		WHERE s.token_hash = $1
	`, tokenHash).Scan(
		&sess.ID, &sess.UserID, &sess.TokenHash, &sess.LastActivityIP, &sess.LastActivityAt,
		&sess.ExpiresAt, &sess.CreatedAt, &sess.NextUpdateSeq,
		&u.ID, &u.CreatedAt, &u.IsActivated, &flag,
		&u.Email, &u.EmailNorm, &u.IsEmailVerified, &u.EmailChangedAt, &u.PasswordChangedAt,
		&u.Username, &u.FirstName, &u.LastName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, identity.User{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, identity.User{}, fmt.Errorf("session.GetWithOwner: %w", err)
	}
	sess.LastActivityAt = sess.LastActivityAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	sess.CreatedAt = sess.CreatedAt.UTC()
	u.AccountFlag = identity.AccountFlag(flag)
	u.CreatedAt = u.CreatedAt.UTC()
	u.EmailChangedAt = u.EmailChangedAt.UTC()
	u.PasswordChangedAt = u.PasswordChangedAt.UTC()
	return sess, u, nil
}

// Touch updates last activity and expiry in one statement.
func (s *PostgresStore) Touch(ctx context.Context, sessionID, ip string, now, expiresAt time.Time) (Session, error) {
	return scanPgSession(s.pool.QueryRow(ctx, `
		UPDATE `+s.sessions+`
		SET last_activity_ip = $2,
		    last_activity_at = $3,
		    expires_at = $4
		WHERE id = $1
		RETURNING `+pgSessionColumns,
		sessionID, ip, now, expiresAt,
	))
}

// AppendUpdate reserves the next sequence number and inserts the record in
// one transaction. The UPDATE row-locks the session, serializing appenders.
func (s *PostgresStore) AppendUpdate(ctx context.Context, sessionID, message string, now time.Time) (UpdateRecord, error) {
	var rec UpdateRecord
	err := withPgTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		rec, err = appendUpdateTx(ctx, tx, s.sessions, s.updates, sessionID, message, now)
		return err
	})
	if err != nil {
		return UpdateRecord{}, err
	}
	return rec, nil
}

// ListUpdates returns update records ordered by seq.
func (s *PostgresStore) ListUpdates(ctx context.Context, sessionID string) ([]UpdateRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, seq, message, created_at
		FROM `+s.updates+`
		WHERE session_id = $1
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session.ListUpdates: %w", err)
	}
	defer rows.Close()

	out := make([]UpdateRecord, 0)
	for rows.Next() {
		var r UpdateRecord
		if err := rows.Scan(&r.SessionID, &r.Seq, &r.Message, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("session.ListUpdates: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session.ListUpdates: %w", err)
	}
	return out, nil
}

// Delete removes one session.
func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.sessions+` WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("session.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteByUser removes every session of a user.
func (s *PostgresStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.sessions+` WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("session.DeleteByUser: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes sessions with expires_at <= now.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.sessions+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("session.DeleteExpired: %w", err)
	}
	return tag.RowsAffected(), nil
}
