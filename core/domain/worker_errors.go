package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	ErrForbidden = errors.New("forbidden")

	// ErrNotPending is returned when accept or ignore targets an item that
	// already reached a terminal state.
	ErrNotPending = errors.New("pending item is not pending")

	// ErrRunInProgress is returned when another sync run holds the lock.
	ErrRunInProgress = errors.New("sync run already in progress")

	ErrProviderNotConfigured = errors.New("mail provider not configured")
	ErrInvalidOAuthState     = errors.New("invalid or expired oauth state")
)

// AuthExpiredError means the account has an expired access token and no
// usable refresh token. The user has to reconnect the mailbox.
type AuthExpiredError struct {
	Provider Provider
	Email    string
	Reason   string
}

func (e *AuthExpiredError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s account %s: authorization expired: %s", e.Provider, e.Email, e.Reason)
	}
	return fmt.Sprintf("%s account %s: authorization expired", e.Provider, e.Email)
}

func IsAuthExpired(err error) bool {
	var ae *AuthExpiredError
	return errors.As(err, &ae)
}

// ValidationError rejects malformed input at a service boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
