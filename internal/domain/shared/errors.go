// Package shared contains common domain types, errors and events used across
// all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// Concurrency errors
	ErrConflict = errors.New("conflict")

	// Store errors
	ErrStoreUnavailable = errors.New("store unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "member", "activity", "progression"
	Op      string // Operation that failed, e.g., "ReadProfile"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Unavailable wraps a driver or connection failure as a StoreUnavailable error.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError("store", op, ErrStoreUnavailable, "store request failed", err)
}

// Member domain errors
var (
	ErrProfileNotFound      = NewDomainError("member", "ReadProfile", ErrNotFound, "profile not found")
	ErrProfileAlreadyExists = NewDomainError("member", "CreateProfile", ErrAlreadyExists, "profile already exists")
	ErrProfileConflict      = NewDomainError("member", "UpdateProfile", ErrConflict, "profile was modified concurrently")
	ErrInvalidUserID        = NewDomainError("member", "Validate", ErrInvalidID, "invalid user ID")
)

// Activity domain errors
var (
	ErrCompletionNotFound   = NewDomainError("activity", "FindCompletion", ErrNotFound, "completion not found")
	ErrUnknownActivityType  = NewDomainError("activity", "Validate", ErrValidation, "unknown activity type")
	ErrActivityLocked       = NewDomainError("activity", "CheckAvailability", ErrInvalidState, "activity is in cool-down")
	ErrNegativePoints       = NewDomainError("activity", "Validate", ErrNegativeValue, "points cannot be negative")
	ErrCompletionIDConflict = NewDomainError("activity", "InsertCompletion", ErrConflict, "completion ID already used")
)

// Badge domain errors
var (
	ErrBadgeAlreadyEarned = NewDomainError("badge", "InsertEarnedBadge", ErrConflict, "badge already earned")
	ErrBadgeNotFound      = NewDomainError("badge", "Lookup", ErrNotFound, "badge not found")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsConflict checks if the error is a conflict: a duplicate insert or a lost race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsStoreUnavailable checks if the error is a transient store failure.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsRetryable checks if the read-recompute-write cycle can be retried.
func IsRetryable(err error) bool {
	return IsConflict(err) || IsStoreUnavailable(err)
}

// ConsistencyWarning reports that a cached profile field disagreed with the
// value recomputed from history. It is never returned as an error.
type ConsistencyWarning struct {
	UserID   string
	Field    string
	Cached   any
	Computed any
}

// Error implements the error interface so warnings can be logged as errors.
func (w *ConsistencyWarning) Error() string {
	return fmt.Sprintf("consistency: user %s: cached %s=%v, computed %v", w.UserID, w.Field, w.Cached, w.Computed)
}
