package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every typed error below unwraps to exactly one of the
// first five, so callers can branch with errors.Is.
var (
	ErrInput           = errors.New("invalid input")
	ErrProvider        = errors.New("embedding provider failed")
	ErrStoreConnection = errors.New("vector store unreachable")
	ErrParse           = errors.New("unparsable translator output")
	ErrRecord          = errors.New("malformed record")

	ErrEmptyText       = errors.New("text is empty")
	ErrQuestionTooLong = errors.New("question too long")
	ErrQueryInjection  = errors.New("question contains suspicious content")
	ErrLengthMismatch  = errors.New("input lengths differ")
	ErrDimension       = errors.New("vector dimension mismatch")
	ErrDuplicateID     = errors.New("duplicate document id")
)

// InputError rejects a call before any external work is attempted.
// It is never retried.
type InputError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *InputError) Unwrap() []error { return joinCauses(ErrInput, e.Wrapped) }

// NewInputError creates an InputError.
func NewInputError(field, value string, wrapped error) *InputError {
	return &InputError{Field: field, Value: value, Wrapped: wrapped}
}

// ProviderError is what remains of a provider failure once retries are spent.
type ProviderError struct {
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() []error { return joinCauses(ErrProvider, e.Err) }

// StoreConnectionError reports an unreachable vector store and where it was
// expected to be.
type StoreConnectionError struct {
	Addr string
	Err  error
}

func (e *StoreConnectionError) Error() string {
	return fmt.Sprintf("vector store unreachable at %s: %v", e.Addr, e.Err)
}

func (e *StoreConnectionError) Unwrap() []error { return joinCauses(ErrStoreConnection, e.Err) }

// ParseError marks collaborator output that could not be turned into a
// structured query. The search orchestrator always recovers from it.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("translator output: %s: %v", e.Reason, e.Err)
	}
	return "translator output: " + e.Reason
}

func (e *ParseError) Unwrap() []error { return joinCauses(ErrParse, e.Err) }

// RecordError marks one source record as unusable. Ingestion logs it and
// moves on.
type RecordError struct {
	Index  int
	Source string
	Reason string
	Err    error
}

func (e *RecordError) Error() string {
	msg := fmt.Sprintf("record %d", e.Index)
	if e.Source != "" {
		msg += " (" + e.Source + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RecordError) Unwrap() []error { return joinCauses(ErrRecord, e.Err) }

func joinCauses(sentinel, cause error) []error {
	if cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, cause}
}
