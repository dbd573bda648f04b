// Package util provides the shared logger, common error types, and
// string helpers used across the orchestrator.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure taxonomy. Callers match with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrAuth          = errors.New("authentication failed")
	ErrTransport     = errors.New("transport failure")
	ErrStorage       = errors.New("storage failure")
	ErrCrypto        = errors.New("ciphertext cannot be decrypted")
	ErrJumphostProbe = errors.New("jumphost probe failed")
	ErrCancelled     = errors.New("operation cancelled")
	ErrNotFound      = errors.New("resource not found")
	ErrNotConnected  = errors.New("device not connected")
)

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// Err returns a ValidationError if any errors were accumulated, nil otherwise
func (v *ValidationBuilder) Err() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// TransportError carries device context for a connection or command failure.
type TransportError struct {
	Device string
	Op     string // "connect", "send", "disconnect"
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
}

func (e *TransportError) Unwrap() error {
	return ErrTransport
}

// NewTransportError creates a transport error with device context
func NewTransportError(device, op string, err error) *TransportError {
	return &TransportError{Device: device, Op: op, Err: err}
}

// StorageError carries path context for a failed artifact or row write.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return ErrStorage
}
