package cqrs

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict is returned when another writer advanced the stream
	// past the expected version.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	ErrViewAlreadyExists   = errors.New("view already exists")
	ErrViewNotFound        = errors.New("view not found")
	ErrViewVersionConflict = errors.New("view version conflict")
	// ErrViewOutOfOrder is returned when an envelope skips one or more sequences.
	ErrViewOutOfOrder = errors.New("event delivered out of order")
)

// DomainError is a command rejected by a business rule. Its message is safe to
// show to the user who issued the command.
type DomainError struct {
	Message string
}

// NewDomainError creates a domain error with a formatted message
func NewDomainError(format string, args ...interface{}) *DomainError {
	return &DomainError{Message: fmt.Sprintf(format, args...)}
}

func (e *DomainError) Error() string {
	return e.Message
}

// IsDomainError reports whether err wraps a *DomainError.
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// PersistenceKind buckets storage failures for the operator.
type PersistenceKind int

const (
	// KindUnknown covers data errors and anything not known to be transient.
	KindUnknown PersistenceKind = iota
	// KindConnection covers failures to reach the backend; these are retryable.
	KindConnection
)

func (k PersistenceKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// PersistenceError is a classified storage failure.
type PersistenceError struct {
	Kind PersistenceKind
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s (%s error): %v", e.Op, e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a connectivity failure.
func IsConnectionError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Kind == KindConnection
}

// ProjectionError is a failure of one query to apply committed events.
type ProjectionError struct {
	Query       string
	AggregateID string
	Sequence    int
	Err         error
}

func (e *ProjectionError) Error() string {
	if e.Sequence > 0 {
		return fmt.Sprintf("query %s failed for %s at sequence %d: %v", e.Query, e.AggregateID, e.Sequence, e.Err)
	}
	return fmt.Sprintf("query %s failed for %s: %v", e.Query, e.AggregateID, e.Err)
}

func (e *ProjectionError) Unwrap() error {
	return e.Err
}

// UnknownEventTypeError is returned when a stored event type is not part of the event set.
type UnknownEventTypeError struct {
	EventType string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.EventType)
}

// UnsupportedVersionError is returned when a stored event has a schema version
// this build cannot read.
type UnsupportedVersionError struct {
	EventType string
	Version   string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported version %q for event type %q", e.Version, e.EventType)
}
