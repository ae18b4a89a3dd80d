// Package apperr defines the error kinds shared by the passport core. Every
// typed error wraps one of the sentinel values so callers can branch with
// errors.Is without importing the concrete type, and errors.As when they need
// the structured fields.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input that can never succeed as given.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a strict create of something that already exists.
	ErrConflict = errors.New("conflict")
	// ErrSerialization marks a document or snapshot that could not be encoded or decoded.
	ErrSerialization = errors.New("serialization failed")
)

// ValidationError reports a rejected field value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing entity and its identifier.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q %s", e.Entity, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError names the entity whose key already exists.
type ConflictError struct {
	Entity string
	Key    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s %q already exists", ErrConflict, e.Entity, e.Key)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// SerializationError wraps an encode or decode failure.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSerialization, e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *SerializationError) Unwrap() []error { return []error{ErrSerialization, e.Err} }

// Validation is shorthand for &ValidationError{Field: field, Message: msg}.
func Validation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// NotFound is shorthand for &NotFoundError{Entity: entity, ID: id}.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// Conflict is shorthand for &ConflictError{Entity: entity, Key: key}.
func Conflict(entity, key string) error {
	return &ConflictError{Entity: entity, Key: key}
}
