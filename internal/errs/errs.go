// Package errs defines the error kinds shared across the exam core.
// Callers classify failures with errors.Is; packages add context with
// fmt.Errorf("...: %w", errs.ErrX).
package errs

import "errors"

var (
	// ErrNotFound: an exam, question, or attempt does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState: the operation is not legal in the current
	// lifecycle state (e.g. answering a submitted attempt).
	ErrInvalidState = errors.New("invalid state")
	// ErrAccessDenied: the attempt or exam belongs to someone else.
	ErrAccessDenied = errors.New("access denied")
	// ErrAttemptLimitExceeded: the exam's max_attempts cap is reached.
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	// ErrValidation: malformed answer content for the question's type,
	// or malformed question data.
	ErrValidation = errors.New("validation failed")
)
