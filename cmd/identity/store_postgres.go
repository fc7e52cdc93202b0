package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sasha-gershtein/Sodia/cmd/internal/storage"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are quoted with pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "sodia").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: storage.DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table(name string) string {
	return storage.PgIdent(s.schema, name)
}

// CreateUser inserts the user and all of its one-to-one rows in a single
// transaction; either every row exists afterwards or none does.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return User{}, invalid(op, "nil store")
	}
	u, err := newUserFromInput(op, in)
	if err != nil {
		return User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.table("users")+` (id, created_at, is_activated, account_flag)
		 VALUES ($1, $2, $3, $4)`,
		u.ID, u.CreatedAt, u.IsActivated, string(u.AccountFlag),
	)
	if err != nil {
		return User{}, pgMapWriteErr(op, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.table("user_login_details")+` (
		     user_id, email, email_norm, is_email_verified, email_changed_at,
		     password, password_changed_at
		   ) VALUES ($1, $2, $3, false, $4, $5, $4)`,
		u.ID, u.Email, u.EmailNorm, u.CreatedAt, in.PasswordHash,
	)
	if err != nil {
		return User{}, pgMapWriteErr(op, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.table("user_account_settings")+` (user_id, username, first_name, last_name)
		 VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.FirstName, u.LastName,
	)
	if err != nil {
		return User{}, pgMapWriteErr(op, err)
	}

	for _, name := range defaultSettingsTables {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.table(name)+` (user_id, created_at) VALUES ($1, $2)`,
			u.ID, u.CreatedAt,
		); err != nil {
			return User{}, pgMapWriteErr(op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) selectUser() string {
	return `SELECT
		u.id, u.created_at, u.is_activated, u.account_flag,
		l.email, l.email_norm, l.is_email_verified, l.email_changed_at, l.password_changed_at,
		a.username, a.first_name, a.last_name,
		l.password
	FROM ` + s.table("users") + ` u
	JOIN ` + s.table("user_login_details") + ` l ON l.user_id = u.id
	JOIN ` + s.table("user_account_settings") + ` a ON a.user_id = u.id`
}

func scanPgUser(row pgx.Row) (User, string, error) {
	var (
		u    User
		flag string
		hash string
	)
	err := row.Scan(
		&u.ID, &u.CreatedAt, &u.IsActivated, &flag,
		&u.Email, &u.EmailNorm, &u.IsEmailVerified, &u.EmailChangedAt, &u.PasswordChangedAt,
		&u.Username, &u.FirstName, &u.LastName,
		&hash,
	)
	if err != nil {
		return User{}, "", err
	}
	u.AccountFlag = AccountFlag(flag)
	u.CreatedAt = u.CreatedAt.UTC()
	u.EmailChangedAt = u.EmailChangedAt.UTC()
	u.PasswordChangedAt = u.PasswordChangedAt.UTC()
	return u, hash, nil
}

// GetUser loads a user by id.
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetUser"

	u, _, err := scanPgUser(s.pool.QueryRow(ctx, s.selectUser()+` WHERE u.id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetLoginByEmail loads a user and their credential by normalized email.
func (s *PostgresStore) GetLoginByEmail(ctx context.Context, email string) (User, string, error) {
	const op = "identity.GetLoginByEmail"

	u, hash, err := scanPgUser(s.pool.QueryRow(ctx,
		s.selectUser()+` WHERE l.email_norm = $1`, NormalizeEmail(email),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, "", NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, "", fmt.Errorf("%s: %w", op, err)
	}
	return u, hash, nil
}

// GetPasswordHash loads the encoded credential of a user.
func (s *PostgresStore) GetPasswordHash(ctx context.Context, userID string) (string, error) {
	const op = "identity.GetPasswordHash"

	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT password FROM `+s.table("user_login_details")+` WHERE user_id = $1`, userID,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return hash, nil
}

// SetPassword replaces the credential and stamps password_changed_at.
func (s *PostgresStore) SetPassword(ctx context.Context, userID, passwordHash string, now time.Time) error {
	const op = "identity.SetPassword"

	if strings.TrimSpace(passwordHash) == "" {
		return invalid(op, "empty password hash")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("user_login_details")+`
		 SET password = $2, password_changed_at = $3
		 WHERE user_id = $1`,
		userID, passwordHash, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// RehashPassword replaces the credential without touching password_changed_at.
func (s *PostgresStore) RehashPassword(ctx context.Context, userID, passwordHash string) error {
	const op = "identity.RehashPassword"

	if strings.TrimSpace(passwordHash) == "" {
		return invalid(op, "empty password hash")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("user_login_details")+` SET password = $2 WHERE user_id = $1`,
		userID, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// ---- helpers ----

var defaultSettingsTables = []string{
	"user_privacy_settings",
	"user_notification_settings",
	"user_challenges_settings",
}

// newUserFromInput validates in and builds the row values shared by both stores.
func newUserFromInput(op string, in CreateUserInput) (User, error) {
	email := strings.TrimSpace(in.Email)
	if !ValidEmail(email) {
		return User{}, invalid(op, "invalid email")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, invalid(op, "password hash is required")
	}
	username := UsernameFromEmail(email)
	if username == "" {
		return User{}, invalid(op, "cannot derive username")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(time.Microsecond)

	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	return User{
		ID:                id,
		CreatedAt:         now,
		IsActivated:       false,
		AccountFlag:       AccountUnsafe,
		Email:             email,
		EmailNorm:         NormalizeEmail(email),
		IsEmailVerified:   false,
		EmailChangedAt:    now,
		PasswordChangedAt: now,
		Username:          username,
		FirstName:         strings.TrimSpace(in.FirstName),
		LastName:          strings.TrimSpace(in.LastName),
	}, nil
}

func pgMapWriteErr(op string, err error) error {
	if c, ok := storage.PgUniqueViolation(err); ok {
		return ConflictError{Op: op, Field: conflictField(c)}
	}
	if storage.PgForeignKeyViolation(err) {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// conflictField maps a constraint name (Postgres) or "table.column" list
// (SQLite) to a stable logical field.
func conflictField(c string) string {
	c = strings.ToLower(c)
	switch {
	case strings.Contains(c, "username"):
		return "username"
	case strings.Contains(c, "email"):
		return "email"
	default:
		return "unique"
	}
}
