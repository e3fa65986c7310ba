// Package apperr defines the error kinds shared by the session and
// collection engine. Each kind wraps its cause so callers can match with
// errors.As and still reach the underlying driver error with errors.Is.
//
// How each kind is handled:
//   - AuthError: the session becomes or stays unauthenticated. Never fatal.
//   - LookupError: roles degrade to the empty set and a warning is recorded.
//   - ValidationError: reported inline before anything is submitted.
//   - StoreError: a failed fetch keeps the previous projection; a failed
//     mutation leaves the projection unmodified.
//   - TransportDiscontinuity: the collection must reload before trusting
//     further change events.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// AuthError reports rejected credentials, an expired or revoked token, or
// a provider failure during sign-in or sign-out.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "auth: " + e.Reason + ": " + e.Err.Error()
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// Auth builds an AuthError.
func Auth(reason string, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}

// LookupError reports that the roles of an identity could not be fetched.
type LookupError struct {
	UserID string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("role lookup for %s failed: %v", e.UserID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// FieldError is one failed field check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every failed field check of a payload.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a failed check for field.
func (e *ValidationError) Add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// Require records a failure when v is blank.
func (e *ValidationError) Require(field, v string) {
	if strings.TrimSpace(v) == "" {
		e.Add(field, "is required")
	}
}

// OrNil returns e when at least one check failed, otherwise nil.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// StoreError reports a failed fetch or write against the record store.
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store wraps err as a StoreError. A nil err yields nil, and an err that
// already is a StoreError is returned unchanged.
func Store(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Collection: collection, Err: err}
}

// TransportDiscontinuity reports that a change feed lost its connection or
// was invalidated and events may have been missed.
type TransportDiscontinuity struct {
	Collection string
	Err        error
}

func (e *TransportDiscontinuity) Error() string {
	return fmt.Sprintf("change feed %s interrupted: %v", e.Collection, e.Err)
}

func (e *TransportDiscontinuity) Unwrap() error { return e.Err }

// IsAuth reports whether err is or wraps an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStore reports whether err is or wraps a StoreError.
func IsStore(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
