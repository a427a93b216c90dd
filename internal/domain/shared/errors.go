// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages and the query-cache layer.
package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("value cannot be empty")
	ErrInvalidKey   = errors.New("invalid query key")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")

	// Query-cache error kinds
	ErrFetch       = errors.New("fetch failed")
	ErrMutation    = errors.New("mutation failed")
	ErrResolution  = errors.New("invalidation scope could not be resolved")
	ErrStaleRead   = errors.New("stale data served")
	ErrStoreClosed = errors.New("query store closed")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "semester", "course", "enrollment"
	Op      string // Operation that failed, e.g., "Create", "Update"
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

// Academic domain errors, one per uniqueness rule enforced by the backend.
var (
	ErrDuplicateSemester   = NewDomainError("semester", "Create", ErrAlreadyExists, "semester already exists for department, academic year and number")
	ErrDuplicateCourse     = NewDomainError("course", "Create", ErrAlreadyExists, "subject already allocated to this division and semester")
	ErrDuplicateEnrollment = NewDomainError("enrollment", "Create", ErrAlreadyExists, "student already enrolled in course")
	ErrDuplicateExamResult = NewDomainError("examResult", "Create", ErrAlreadyExists, "result already recorded for student and exam")
	ErrDuplicateAttendance = NewDomainError("attendance", "Create", ErrAlreadyExists, "attendance already recorded for student, course and date")
)

// ═══════════════════════════════════════════════════════════════════════════
// Query-cache errors
// ═══════════════════════════════════════════════════════════════════════════

// FetchError is returned when a backend read failed after retries.
type FetchError struct {
	Key      string // rendered query key
	Attempts int
	Cause    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// MutationError is returned when a backend write was rejected. The cache is
// untouched when this error is returned.
type MutationError struct {
	Entity string
	Op     string
	Cause  error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("mutation %s.%s failed: %v", e.Entity, e.Op, e.Cause)
}

func (e *MutationError) Unwrap() error { return e.Cause }

func (e *MutationError) Is(target error) bool { return target == ErrMutation }

// ResolutionError records a scope pattern that could not be filled from the
// mutation payload. It is logged, never returned to callers.
type ResolutionError struct {
	Entity  string
	Op      string
	Pattern string
	Missing []string
	// Fallback is the rendered key that was invalidated instead.
	Fallback string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s.%s: pattern %s missing [%s], fell back to %s",
		e.Entity, e.Op, e.Pattern, strings.Join(e.Missing, ","), e.Fallback)
}

func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }

// StaleReadWarning is logged when data past its freshness window is served
// while a background refresh runs.
type StaleReadWarning struct {
	Key string
	Age string
}

func (w *StaleReadWarning) Error() string {
	return fmt.Sprintf("serving stale %s (age %s), refresh scheduled", w.Key, w.Age)
}

func (w *StaleReadWarning) Is(target error) bool { return target == ErrStaleRead }

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
		errors.Is(err, ErrEmptyValue)
}

// IsFetchError reports whether err came from a failed query read.
func IsFetchError(err error) bool { return errors.Is(err, ErrFetch) }

// IsMutationError reports whether err came from a rejected write.
func IsMutationError(err error) bool { return errors.Is(err, ErrMutation) }
