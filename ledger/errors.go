/*
errors.go - Error taxonomy for the booking financial lifecycle

PURPOSE:
  All error types in one place. Callers test categories with errors.Is
  against the sentinels and read details with errors.As on the structured
  types.

ERROR CATEGORIES:
  1. Invalid transition - source state does not match the precondition.
     Recoverable: the caller refreshes and retries with current state.
  2. Validation - missing remarks / invoice / UTR, bad amounts.
     Raised before any mutation.
  3. Not found - referenced booking, settlement or organizer is missing.
  4. Forbidden - actor role may not perform the action.
  5. Concurrent modification - a compare-and-set lost a race.

USAGE:
  if errors.Is(err, ledger.ErrInvalidTransition) {
      // "action no longer valid, please refresh"
  }

  var te *ledger.InvalidTransitionError
  if errors.As(err, &te) {
      log.Printf("%s %s: %s -> %s", te.Entity, te.ID, te.From, te.To)
  }

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTransition is returned when the current state does not allow
	// the requested transition.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the actor's role may not perform the action.
	ErrForbidden = errors.New("forbidden")

	// ErrConcurrentModification is returned when a compare-and-set detects
	// that the record changed since it was read.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateID is returned when inserting a record whose id already exists.
	ErrDuplicateID = errors.New("duplicate id")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// EntityType names the kind of record an error or audit entry refers to.
type EntityType string

const (
	EntityBooking    EntityType = "booking"
	EntitySettlement EntityType = "settlement"
	EntityOrganizer  EntityType = "organizer"
	EntityTrip       EntityType = "trip"
	EntityBatch      EntityType = "batch"
	EntitySettings   EntityType = "settings"
)

// Axis names which state machine a transition belongs to.
type Axis string

const (
	AxisPayment Axis = "payment"
	AxisRefund  Axis = "refund"
	AxisPayout  Axis = "payout"
)

// InvalidTransitionError carries the attempted transition.
type InvalidTransitionError struct {
	Entity EntityType
	ID     string
	Axis   Axis
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition for %s %s: %s -> %s", e.Axis, e.Entity, e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing record.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ForbiddenError names the action the actor attempted.
type ForbiddenError struct {
	Actor  Actor
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s %q may not %s", e.Actor.Role, e.Actor.Name, e.Action)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// Required returns a ValidationError if value is blank.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input or
// stale view of the state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrDuplicateID)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
