package repository

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateIdempotencyKey is returned when an insert loses the race on idempotency_key.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	// ErrActiveEventExists is returned when the subject already has an active event.
	ErrActiveEventExists = errors.New("subject already has an active event")
	// ErrEventNotActive is returned when a transition finds no active event.
	ErrEventNotActive = errors.New("no active event")
	// ErrRefreshTokenReused is returned when a revoked refresh token is presented.
	// The token's whole family has been revoked by the time it is returned.
	ErrRefreshTokenReused = errors.New("refresh token reused")
	// ErrRefreshTokenExpired is returned when the presented refresh token is past expiry.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)

const (
	constraintIdempotencyKey = "sos_events_idempotency_key_key"
	constraintOneActive      = "sos_events_one_active_per_subject"
)
