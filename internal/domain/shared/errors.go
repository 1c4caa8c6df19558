// Package shared contains common domain types, errors, events, and contracts
// that are used across all domain packages. This package has zero external dependencies.
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
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("value cannot be empty")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrArchived         = errors.New("entity is archived")

	// Data errors
	ErrDataIntegrity = errors.New("data integrity violation")
	ErrTypeMismatch  = errors.New("node type mismatch")

	// Infrastructure errors
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrTimeout               = errors.New("operation timeout")
	ErrMalformedPayload      = errors.New("malformed message payload")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "enrolment", "content", "plan"
	Op      string // Operation that failed, e.g., "ChangeStatus", "Resolve"
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

// Enrolment domain errors
var (
	ErrEnrolmentNotFound      = NewDomainError("enrolment", "Load", ErrNotFound, "enrolment not found")
	ErrEnrolmentAlreadyExists = NewDomainError("enrolment", "Create", ErrAlreadyExists, "active enrolment already exists for this node")
	ErrEnrolmentArchived      = NewDomainError("enrolment", "ChangeStatus", ErrArchived, "enrolment is archived")
	ErrInvalidStatus          = NewDomainError("enrolment", "Validate", ErrInvalidInput, "invalid enrolment status")
	ErrStatusRegression       = NewDomainError("enrolment", "ChangeStatus", ErrStateTransition, "automatic propagation cannot regress status")
	ErrParentLinkMismatch     = NewDomainError("enrolment", "Validate", ErrDataIntegrity, "parent enrolment does not match parent node")
)

// Content domain errors
var (
	ErrNodeNotFound = NewDomainError("content", "Resolve", ErrNotFound, "content node not found")
	ErrNotAModule   = NewDomainError("content", "Resolve", ErrTypeMismatch, "content node is not a module")
	ErrNotACourse   = NewDomainError("content", "Resolve", ErrTypeMismatch, "content node is not a course")
)

// Plan domain errors
var (
	ErrPlanNotFound    = NewDomainError("plan", "Find", ErrNotFound, "plan not found")
	ErrUnknownRuleType = NewDomainError("plan", "Resolve", ErrDataIntegrity, "unknown completion rule type")
	ErrBadRuleValue    = NewDomainError("plan", "Resolve", ErrDataIntegrity, "completion rule value cannot be parsed")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsBenign reports whether the error is a benign lookup failure that
// fan-out consumers must treat as a no-op: the target was deleted or
// changed type after the message was enqueued.
func IsBenign(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTypeMismatch) || errors.Is(err, ErrArchived)
}

// IsDataIntegrity reports whether the error signals corrupt stored data
// (for example an unknown completion rule type). These are surfaced as
// failures rather than swallowed.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDependencyUnavailable) || errors.Is(err, ErrTimeout)
}
