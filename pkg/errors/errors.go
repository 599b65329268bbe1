package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of error variants surfaced by the API.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindInvalidState
	KindTokenInvalid
	KindTokenExpired
	KindTokenRevoked
	KindRateLimited
)

// String returns a stable label for logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid_state"
	case KindTokenInvalid:
		return "token_invalid"
	case KindTokenExpired:
		return "token_expired"
	case KindTokenRevoked:
		return "token_revoked"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Kind      Kind                   `json:"-"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Status    int                    `json:"-"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Err       error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors of the same kind and code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Public returns the representation that may leave the process. Internal
// errors lose their message, details and cause.
func (e *Error) Public() *Error {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case KindInternal:
		return &Error{Kind: KindInternal, Code: ErrInternal.Code, Message: ErrInternal.Message, Status: ErrInternal.Status, Retryable: ErrInternal.Retryable}
	case KindValidation, KindUnauthorized, KindForbidden, KindNotFound, KindConflict,
		KindInvalidState, KindTokenInvalid, KindTokenExpired, KindTokenRevoked, KindRateLimited:
		return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Status: e.Status, Retryable: e.Retryable, Details: e.Details}
	default:
		return ErrInternal.Public()
	}
}

// WithDetails returns a copy carrying structured details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Details = details
	return &clone
}

// New creates a new Error instance.
func New(kind Kind, code string, status int, retryable bool, message string) *Error {
	return &Error{Kind: kind, Code: code, Status: status, Retryable: retryable, Message: message}
}

// Wrap attaches a cause to a copy of the sentinel, optionally overriding the message.
func Wrap(err error, sentinel *Error, message string) *Error {
	clone := Clone(sentinel, message)
	clone.Err = err
	return clone
}

// Predefined errors for common scenarios.
var (
	ErrValidation       = New(KindValidation, "VALIDATION_ERROR", http.StatusBadRequest, false, "validation failed")
	ErrUnauthorized     = New(KindUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized, false, "unauthorized")
	ErrForbidden        = New(KindForbidden, "FORBIDDEN", http.StatusForbidden, false, "forbidden")
	ErrNotFound         = New(KindNotFound, "NOT_FOUND", http.StatusNotFound, false, "resource not found")
	ErrSOSAlreadyActive = New(KindConflict, "SOS_ALREADY_ACTIVE", http.StatusConflict, false, "an SOS alert is already active")
	ErrSOSNotActive     = New(KindInvalidState, "SOS_NOT_ACTIVE", http.StatusConflict, false, "no active SOS alert")
	ErrIdempotencyKey   = New(KindConflict, "IDEMPOTENCY_KEY_CONFLICT", http.StatusConflict, false, "idempotency key belongs to another request")
	ErrTokenInvalid     = New(KindTokenInvalid, "TOKEN_INVALID", http.StatusUnauthorized, false, "token is invalid")
	ErrTokenExpired     = New(KindTokenExpired, "TOKEN_EXPIRED", http.StatusUnauthorized, true, "token has expired")
	ErrTokenRevoked     = New(KindTokenRevoked, "TOKEN_REVOKED", http.StatusUnauthorized, false, "token has been revoked")
	ErrRateLimited      = New(KindRateLimited, "RATE_LIMITED", http.StatusTooManyRequests, true, "too many requests")
	ErrInternal         = New(KindInternal, "INTERNAL_ERROR", http.StatusInternalServerError, true, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal, "")
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// IsKind reports whether err normalises to the given kind.
func IsKind(err error, kind Kind) bool {
	e := FromError(err)
	return e != nil && e.Kind == kind
}
