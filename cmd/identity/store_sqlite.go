package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sasha-gershtein/Sodia/cmd/internal/storage"
)

// SQLiteStore implements identity persistence on an embedded SQLite
// database opened with storage.OpenSQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db. The handle is owned by the caller.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

// CreateUser inserts the user and all of its one-to-one rows in a single transaction.
func (s *SQLiteStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	u, err := newUserFromInput(op, in)
	if err != nil {
		return User{}, err
	}
	at := u.CreatedAt.UnixMicro()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, created_at, is_activated, account_flag) VALUES (?, ?, ?, ?)`,
		u.ID, at, u.IsActivated, string(u.AccountFlag),
	); err != nil {
		return User{}, sqliteMapWriteErr(op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_login_details (
		     user_id, email, email_norm, is_email_verified, email_changed_at,
		     password, password_changed_at
		   ) VALUES (?, ?, ?, 0, ?, ?, ?)`,
		u.ID, u.Email, u.EmailNorm, at, in.PasswordHash, at,
	); err != nil {
		return User{}, sqliteMapWriteErr(op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_account_settings (user_id, username, first_name, last_name) VALUES (?, ?, ?, ?)`,
		u.ID, u.Username, u.FirstName, u.LastName,
	); err != nil {
		return User{}, sqliteMapWriteErr(op, err)
	}

	for _, name := range defaultSettingsTables {
		// Table names come from a fixed list, never from input.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+name+` (user_id, created_at) VALUES (?, ?)`, u.ID, at,
		); err != nil {
			return User{}, sqliteMapWriteErr(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return User{}, err
	}
	return u, nil
}

const sqliteSelectUser = `SELECT
	u.id, u.created_at, u.is_activated, u.account_flag,
	l.email, l.email_norm, l.is_email_verified, l.email_changed_at, l.password_changed_at,
	a.username, a.first_name, a.last_name,
	l.password
FROM users u
JOIN user_login_details l ON l.user_id = u.id
JOIN user_account_settings a ON a.user_id = u.id`

func scanSQLiteUser(row *sql.Row) (User, string, error) {
	var (
		u                        User
		flag, hash               string
		created, emailAt, passAt int64
	)
	err := row.Scan(
		&u.ID, &created, &u.IsActivated, &flag,
		&u.Email, &u.EmailNorm, &u.IsEmailVerified, &emailAt, &passAt,
		&u.Username, &u.FirstName, &u.LastName,
		&hash,
	)
	if err != nil {
		return User{}, "", err
	}
	u.AccountFlag = AccountFlag(flag)
	u.CreatedAt = time.UnixMicro(created).UTC()
	u.EmailChangedAt = time.UnixMicro(emailAt).UTC()
	u.PasswordChangedAt = time.UnixMicro(passAt).UTC()
	return u, hash, nil
}

// GetUser loads a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetUser"

	u, _, err := scanSQLiteUser(s.db.QueryRowContext(ctx, sqliteSelectUser+` WHERE u.id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetLoginByEmail loads a user and their credential by normalized email.
func (s *SQLiteStore) GetLoginByEmail(ctx context.Context, email string) (User, string, error) {
	const op = "identity.GetLoginByEmail"

	u, hash, err := scanSQLiteUser(s.db.QueryRowContext(ctx,
		sqliteSelectUser+` WHERE l.email_norm = ?`, NormalizeEmail(email),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, "", NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, "", fmt.Errorf("%s: %w", op, err)
	}
	return u, hash, nil
}

// GetPasswordHash loads the encoded credential of a user.
func (s *SQLiteStore) GetPasswordHash(ctx context.Context, userID string) (string, error) {
	const op = "identity.GetPasswordHash"

	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT password FROM user_login_details WHERE user_id = ?`, userID,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return hash, nil
}

// SetPassword replaces the credential and stamps password_changed_at.
func (s *SQLiteStore) SetPassword(ctx context.Context, userID, passwordHash string, now time.Time) error {
	const op = "identity.SetPassword"

	if strings.TrimSpace(passwordHash) == "" {
		return invalid(op, "empty password hash")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_login_details SET password = ?, password_changed_at = ? WHERE user_id = ?`,
		passwordHash, now.UTC().UnixMicro(), userID,
	)
	return sqliteExpectOne(op, res, err)
}

// RehashPassword replaces the credential without touching password_changed_at.
func (s *SQLiteStore) RehashPassword(ctx context.Context, userID, passwordHash string) error {
	const op = "identity.RehashPassword"

	if strings.TrimSpace(passwordHash) == "" {
		return invalid(op, "empty password hash")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_login_details SET password = ? WHERE user_id = ?`,
		passwordHash, userID,
	)
	return sqliteExpectOne(op, res, err)
}

func sqliteExpectOne(op string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func sqliteMapWriteErr(op string, err error) error {
	if cols, ok := storage.SQLiteUniqueViolation(err); ok {
		return ConflictError{Op: op, Field: conflictField(cols)}
	}
	if storage.SQLiteForeignKeyViolation(err) {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return fmt.Errorf("%s: %w", op, err)
}
