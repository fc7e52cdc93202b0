package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sasha-gershtein/Sodia/cmd/identity/ids"
	"github.com/sasha-gershtein/Sodia/cmd/security/password"
)

// RegisterInput is a self-service signup request.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Service implements registration, login and password change.
type Service struct {
	store Store
	pw    password.Config
	log   *slog.Logger

	// dummyHash is verified against when the email is unknown so that the
	// response time does not reveal whether an account exists.
	dummyHash string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger for best-effort failures (default slog.Default()).
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService builds a Service and precomputes the dummy credential.
func NewService(store Store, pw password.Config, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("identity: nil store")
	}
	cred, err := pw.Hash("sodia-dummy-credential")
	if err != nil {
		return nil, fmt.Errorf("identity: dummy credential: %w", err)
	}
	s := &Service{store: store, pw: pw, log: slog.Default(), dummyHash: cred.String()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Register validates the request, hashes the password and creates the user.
func (s *Service) Register(ctx context.Context, now time.Time, in RegisterInput) (User, error) {
	const op = "identity.Register"

	email := strings.TrimSpace(in.Email)
	if !ValidEmail(email) {
		return User{}, invalid(op, "invalid email")
	}
	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if first == "" || utf8.RuneCountInString(first) > maxNameLen {
		return User{}, invalid(op, "first_name must be 1..50 characters")
	}
	if last == "" || utf8.RuneCountInString(last) > maxNameLen {
		return User{}, invalid(op, "last_name must be 1..50 characters")
	}
	if err := s.pw.ValidateFor(in.Password, email); err != nil {
		return User{}, policyErr(op, err)
	}

	cred, err := s.pw.Hash(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return s.store.CreateUser(ctx, CreateUserInput{
		Email:        email,
		FirstName:    first,
		LastName:     last,
		PasswordHash: cred.String(),
		Now:          now,
	})
}

// Authenticate checks email and password. Unknown emails and wrong
// passwords both yield ErrInvalidCredentials after comparable work.
func (s *Service) Authenticate(ctx context.Context, email, pw string) (User, error) {
	const op = "identity.Authenticate"

	u, encoded, err := s.store.GetLoginByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			_, _ = s.pw.Verify(s.dummyHash, pw)
			return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
		}
		return User{}, err
	}

	ok, err := s.pw.Verify(encoded, pw)
	if err != nil {
		// A stored credential that does not parse is corruption, not a bad login.
		return User{}, fmt.Errorf("%s: stored credential: %w", op, err)
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	if cred, perr := password.Parse(encoded); perr == nil && s.pw.NeedsRehash(cred) {
		s.rehash(ctx, u.ID, pw)
	}
	return u, nil
}

// rehash upgrades a credential to the current parameters. A failed upgrade
// leaves a working credential, so it is logged and not returned.
func (s *Service) rehash(ctx context.Context, userID, pw string) {
	next, err := s.pw.Hash(pw)
	if err == nil {
		err = s.store.RehashPassword(ctx, userID, next.String())
	}
	if err != nil {
		s.log.Warn("identity.rehash.fail", "err", err, "user_id", userID)
	}
}

// ChangePassword verifies current, enforces policy on next and replaces the
// credential. Session revocation is the caller's concern.
func (s *Service) ChangePassword(ctx context.Context, now time.Time, userID, current, next string) error {
	const op = "identity.ChangePassword"

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	encoded, err := s.store.GetPasswordHash(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.pw.Verify(encoded, current)
	if err != nil {
		return fmt.Errorf("%s: stored credential: %w", op, err)
	}
	if !ok {
		return OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	if err := s.pw.ValidateFor(next, u.Email, u.Username); err != nil {
		return policyErr(op, err)
	}
	if current == next {
		return invalid(op, "new password must differ from the current one")
	}

	cred, err := s.pw.Hash(next)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if now.IsZero() {
		now = time.Now()
	}
	return s.store.SetPassword(ctx, userID, cred.String(), now.UTC().Truncate(time.Microsecond))
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	if !ids.Valid(strings.TrimSpace(userID)) {
		return User{}, NotFoundError{Op: "identity.GetUser", Resource: "user"}
	}
	return s.store.GetUser(ctx, userID)
}

// policyErr keeps both ErrInvalidInput and the password sentinel matchable.
func policyErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInvalidInput, err)
}
