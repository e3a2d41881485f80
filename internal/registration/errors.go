package registration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nmbp/pledge_api/internal/session"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrDuplicateMobileNumber = errors.New("mobile number already registered")
	ErrSessionExpired        = errors.New("registration session expired")
	ErrResendLimitExceeded   = errors.New("otp resend limit exceeded")
	ErrAttemptLimitExceeded  = errors.New("otp attempt limit exceeded")
	ErrSessionDataMissing    = errors.New("registration data missing")
	ErrSessionNotVerified    = errors.New("registration session not verified")
	ErrDeliveryFailure       = errors.New("otp delivery failed")
	// ErrStoreUnavailable is returned when the session store cannot be reached.
	ErrStoreUnavailable = session.ErrUnavailable
)

// FieldError describes one rejected attribute.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries per-field details and matches ErrInvalidInput.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalidField(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}
