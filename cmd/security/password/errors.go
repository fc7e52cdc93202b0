package password

import "errors"

// Public, stable errors for callers.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidHash      = errors.New("invalid password hash")
	ErrInvalidParams    = errors.New("invalid kdf parameters")
)

// FormatError reports a malformed or unsupported credential encoding.
// It unwraps to ErrInvalidHash so callers can use errors.Is.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	if e.Reason == "" {
		return ErrInvalidHash.Error()
	}
	return ErrInvalidHash.Error() + ": " + e.Reason
}

func (e *FormatError) Unwrap() error { return ErrInvalidHash }

func formatErr(reason string) error { return &FormatError{Reason: reason} }
