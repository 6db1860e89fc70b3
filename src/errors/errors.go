package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios
var (
	// Draft session errors
	ErrAlreadyActive    = errors.New("draft session already active")
	ErrNoActiveSession  = errors.New("no active draft session")
	ErrTokenNotFound    = errors.New("token not found")
	ErrAlreadyCommitted = errors.New("staged create already committed")

	// Database errors
	ErrRecordNotFound     = errors.New("record not found")
	ErrPersonaNotFound    = errors.New("persona not found")
	ErrDuplicateRecord    = errors.New("duplicate record")
	ErrIncompatibleSchema = errors.New("incompatible database schema")

	// Tokenizer errors
	ErrTokenizerUnavailable = errors.New("tokenizer unavailable")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
	ErrOutOfRange      = errors.New("value out of acceptable range")
)

// DatabaseError represents a database operation error with context
type DatabaseError struct {
	Op    string // Operation that failed (e.g., "insert", "update", "query")
	Table string // Table involved
	Err   error  // Underlying error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s operation on %s: %v", e.Op, e.Table, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// NewDatabaseError creates a new database error
func NewDatabaseError(op, table string, err error) error {
	return &DatabaseError{
		Op:    op,
		Table: table,
		Err:   err,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for %s (value: %v): %s",
			e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewValidationError creates a validation error for a single field
func NewValidationError(field string, value interface{}, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// CommitError reports which replayed draft operation failed.
// Phase is one of "delete", "update" or "create".
type CommitError struct {
	Phase   string
	TokenID string
	Err     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed during %s of token %s: %v", e.Phase, e.TokenID, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Helper functions for common error patterns

// IsRetryable determines if an error should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var commitErr *CommitError
	if errors.As(err, &commitErr) {
		return !IsValidation(commitErr.Err)
	}

	return errors.Is(err, ErrTokenizerUnavailable)
}

// IsNotFound checks if error indicates a missing resource
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrPersonaNotFound)
}

// IsValidation checks if error was raised by input validation
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr) || errors.Is(err, ErrInvalidInput)
}

// WrapWithContext adds context to an error
func WrapWithContext(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
