package identity

import (
	"context"
	"time"
)

// AccountFlag is the exclusive trust level of an account.
type AccountFlag string

const (
	AccountUnsafe AccountFlag = "unsafe"
	AccountNew    AccountFlag = "new"
	AccountSafe   AccountFlag = "safe"
)

// Valid reports whether f is one of the known flags.
func (f AccountFlag) Valid() bool {
	switch f {
	case AccountUnsafe, AccountNew, AccountSafe:
		return true
	default:
		return false
	}
}

// User is the composite view over users, user_login_details and
// user_account_settings. The password credential is deliberately absent.
type User struct {
	ID          string
	CreatedAt   time.Time
	IsActivated bool
	AccountFlag AccountFlag

	Email             string
	EmailNorm         string
	IsEmailVerified   bool
	EmailChangedAt    time.Time
	PasswordChangedAt time.Time

	Username  string
	FirstName string
	LastName  string
}

// CreateUserInput carries an already-validated registration.
// PasswordHash is an encoded credential, never a plaintext password.
type CreateUserInput struct {
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Now          time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	// CreateUser writes every per-user row in one transaction.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// GetUser loads a user by id.
	GetUser(ctx context.Context, userID string) (User, error)

	// GetLoginByEmail loads a user and their encoded credential by email.
	GetLoginByEmail(ctx context.Context, email string) (User, string, error)

	// GetPasswordHash loads the encoded credential of a user.
	GetPasswordHash(ctx context.Context, userID string) (string, error)

	// SetPassword replaces the credential and stamps password_changed_at.
	SetPassword(ctx context.Context, userID, passwordHash string, now time.Time) error

	// RehashPassword replaces the credential with a stronger encoding of the
	// same password; password_changed_at is left alone.
	RehashPassword(ctx context.Context, userID, passwordHash string) error
}
