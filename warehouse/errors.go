/*
errors.go - Centralized error types for the warehouse core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every rejection the core can produce is a local, recoverable condition
  returned to the caller. None of them should crash the process.

ERROR CATEGORIES:
  1. Input errors      - ValidationError, DuplicateKeyError
  2. Catalog errors    - ArchivedReferenceError, EntityInUseError, AlreadyArchivedError
  3. Ledger errors     - NegativeBalanceError
  4. Lookup errors     - NotFoundError
  5. Store errors      - ConcurrencyConflictError (retryable once)

USAGE:
  Structured errors unwrap to a sentinel, so callers can branch with
  errors.Is and still read the details with errors.As:

    var nb *warehouse.NegativeBalanceError
    if errors.As(err, &nb) {
        log.Printf("%s/%s would go negative", nb.ResourceName, nb.UnitName)
    }

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP statuses
  - store/postgres/postgres.go: Produces ConcurrencyConflictError
*/
package warehouse

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a field breaks a constraint.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateKey is returned when a number or name is already taken.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrArchivedReference is returned when an archived catalog entry is
	// referenced by a new line or edited.
	ErrArchivedReference = errors.New("archived catalog entry")

	// ErrEntityInUse is returned when archiving an entry that lines reference.
	ErrEntityInUse = errors.New("catalog entry in use")

	// ErrAlreadyArchived is returned when archiving an archived entry.
	ErrAlreadyArchived = errors.New("catalog entry already archived")

	// ErrNegativeBalance is returned when a mutation would drive a pair below zero.
	ErrNegativeBalance = errors.New("negative balance")

	// ErrNotFound is returned when a referenced id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict is returned when the store detected a concurrent
	// change between read and write.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the field and the rule it broke.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Rule)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DuplicateKeyError names the conflicting field and value.
type DuplicateKeyError struct {
	Entity string // "arrival", "resource", "unit"
	Field  string // "number", "name"
	Value  string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s with %s %q already exists", e.Entity, e.Field, e.Value)
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// ArchivedReferenceError is returned for lines or edits touching an archived entry.
type ArchivedReferenceError struct {
	Kind CatalogKind
	ID   int64
	Name string
}

func (e *ArchivedReferenceError) Error() string {
	return fmt.Sprintf("%s %q is archived", e.Kind, e.Name)
}

func (e *ArchivedReferenceError) Unwrap() error { return ErrArchivedReference }

// EntityInUseError is returned when archiving a referenced entry.
type EntityInUseError struct {
	Kind CatalogKind
	ID   int64
	Name string
}

func (e *EntityInUseError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s %d is referenced by arrival lines", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s %q is referenced by arrival lines", e.Kind, e.Name)
}

func (e *EntityInUseError) Unwrap() error { return ErrEntityInUse }

// AlreadyArchivedError is returned when archiving twice.
type AlreadyArchivedError struct {
	Kind CatalogKind
	ID   int64
}

func (e *AlreadyArchivedError) Error() string {
	return fmt.Sprintf("%s %d is already archived", e.Kind, e.ID)
}

func (e *AlreadyArchivedError) Unwrap() error { return ErrAlreadyArchived }

// NegativeBalanceError is the consistency check rejection. The whole
// mutation was rejected; nothing was written.
type NegativeBalanceError struct {
	ResourceID   int64
	UnitID       int64
	ResourceName string
	UnitName     string
	Balance      int64 // current total of the pair
	Delta        int64 // requested change, always negative
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("operation rejected: balance of resource %q in unit %q would become %d",
		e.ResourceName, e.UnitName, e.Balance+e.Delta)
}

func (e *NegativeBalanceError) Unwrap() error { return ErrNegativeBalance }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConcurrencyConflictError wraps the store error that signalled the conflict.
type ConcurrencyConflictError struct {
	Op  string
	Err error
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: concurrent modification detected", e.Op)
	}
	return fmt.Sprintf("%s: concurrent modification detected: %v", e.Op, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConcurrencyConflict}
	}
	return []error{ErrConcurrencyConflict, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to caller input or state
// the caller must change.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrArchivedReference) ||
		errors.Is(err, ErrEntityInUse) ||
		errors.Is(err, ErrAlreadyArchived) ||
		errors.Is(err, ErrNegativeBalance)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, ErrArchivedReference):
		return "archived_reference"
	case errors.Is(err, ErrEntityInUse):
		return "entity_in_use"
	case errors.Is(err, ErrAlreadyArchived):
		return "already_archived"
	case errors.Is(err, ErrNegativeBalance):
		return "negative_balance"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	default:
		return "internal"
	}
}
