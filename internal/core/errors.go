package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRecordNotFound matches any RecordNotFoundError via errors.Is.
	ErrRecordNotFound = errors.New("record not found")

	// ErrSchema matches any SchemaError via errors.Is.
	ErrSchema = errors.New("schema error")

	// ErrConsistencyValidation matches any ConsistencyValidationError via errors.Is.
	ErrConsistencyValidation = errors.New("model consistency validation failed")

	// ErrBatchUpdateNotPossible is returned when a batch update would touch every
	// row of a backend that has no native bulk update path.
	ErrBatchUpdateNotPossible = errors.New("batch update not possible: backend has no bulk update and the collection is unfiltered")

	// ErrRecordDeleted is returned on attribute access of a deleted entity.
	ErrRecordDeleted = errors.New("record has been deleted")

	// ErrSchemaFrozen is returned when mutating a registered schema.
	ErrSchemaFrozen = errors.New("schema is frozen")

	// ErrKeyNotFound is returned by KVStore implementations for missing keys.
	ErrKeyNotFound = errors.New("key not found")
)

// RecordNotFoundError reports that no record exists for an identifier.
type RecordNotFoundError struct {
	Entity string
	ID     int64
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("%s with id %d not found", e.Entity, e.ID)
}

// Is reports whether target is ErrRecordNotFound.
func (e *RecordNotFoundError) Is(target error) bool {
	return target == ErrRecordNotFound
}

// SchemaError reports a declared schema that is invalid or cannot be reconciled.
type SchemaError struct {
	Schema  string
	Column  string
	Message string
	Cause   error
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema")
	if e.Schema != "" {
		b.WriteString(" ")
		b.WriteString(e.Schema)
	}
	if e.Column != "" {
		b.WriteString(" column ")
		b.WriteString(e.Column)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Is reports whether target is ErrSchema.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// Unwrap returns the underlying cause.
func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// ValidationFailure is a single failed validation rule.
type ValidationFailure struct {
	Column  string
	Message string
}

// ConsistencyValidationError reports validation rules that failed before save.
type ConsistencyValidationError struct {
	Entity   string
	Failures []ValidationFailure
}

func (e *ConsistencyValidationError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Column + ": " + f.Message
	}
	return fmt.Sprintf("%s: validation failed: %s", e.Entity, strings.Join(msgs, "; "))
}

// Is reports whether target is ErrConsistencyValidation.
func (e *ConsistencyValidationError) Is(target error) bool {
	return target == ErrConsistencyValidation
}

// BackendError wraps a lower-level storage failure. The core never retries it.
type BackendError struct {
	Backend string
	Op      string
	Cause   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// WrapBackend wraps err as a BackendError unless it already carries one of
// the core error types.
func WrapBackend(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrSchema) {
		return err
	}
	return &BackendError{Backend: backend, Op: op, Cause: err}
}

// IsRetryable reports whether err may be retried by the caller.
// None of the core error types are.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
