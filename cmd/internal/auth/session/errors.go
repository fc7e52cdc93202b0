package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a token or id matches no session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when an operation needs a live session.
	ErrSessionExpired = errors.New("session expired")

	// ErrUserNotFound is returned when a session is issued for a missing user.
	ErrUserNotFound = errors.New("session user not found")

	// ErrIntegrityViolation is the kind behind every *ConflictError.
	ErrIntegrityViolation = errors.New("session integrity violation")

	// ErrMessageTooLarge is returned when an update message exceeds the cap.
	ErrMessageTooLarge = errors.New("session update message too large")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ConflictError reports a uniqueness constraint failure in the session store.
type ConflictError struct {
	Op         string
	Constraint string
}

func (e *ConflictError) Error() string {
	if e.Constraint == "" {
		return fmt.Sprintf("%s: %s", e.Op, ErrIntegrityViolation.Error())
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, ErrIntegrityViolation.Error(), e.Constraint)
}

func (e *ConflictError) Unwrap() error { return ErrIntegrityViolation }
