package models

import (
	"errors"
	"fmt"
)

// Error variables for better error handling and testability
var (
	ErrEmptyEmail        = errors.New("email cannot be empty")
	ErrEmptyName         = errors.New("name cannot be empty")
	ErrInvalidUserType   = errors.New("invalid user type")
	ErrEmailTaken        = errors.New("a user with this email already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrEmptyMessage      = errors.New("message content cannot be empty")
	ErrSessionNotFound   = errors.New("session not found")
	ErrConsentRequired   = errors.New("consent is required before submitting a referral")
	ErrMissingField      = errors.New("required referral field is missing")
	ErrInvalidUrgency    = errors.New("invalid urgency")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrReferralNotFound  = errors.New("referral not found")
)

// ValidationError blocks a state transition. Message is shown to the user
// as is; Err is the sentinel used for matching.
type ValidationError struct {
	Err     error
	Field   string
	Message string
}

// NewValidationError wraps a sentinel with a field name and a user-facing message.
func NewValidationError(err error, field, message string) *ValidationError {
	return &ValidationError{Err: err, Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// UserMessage returns the user-facing text of a validation error, or a
// generic text for any other error.
func UserMessage(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) && ve.Message != "" {
		return ve.Message
	}
	return "Ett oväntat fel uppstod. Försök igen."
}
