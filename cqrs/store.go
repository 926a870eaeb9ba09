package cqrs

import (
	"context"
	"time"
)

// EventStore persists aggregate streams. Implementations never dispatch to queries.
type EventStore[E Event] interface {
	// Load returns the whole stream in append order.
	Load(ctx context.Context, aggregateType, aggregateID string) ([]EventEnvelope[E], error)
	// LoadSince returns the events with a sequence greater than afterSequence.
	LoadSince(ctx context.Context, aggregateType, aggregateID string, afterSequence int) ([]EventEnvelope[E], error)
	// Append atomically adds events to the stream. It returns ErrConcurrencyConflict
	// when the stream length is not expectedVersion.
	Append(ctx context.Context, aggregateType, aggregateID string, expectedVersion int, events []E, metadata map[string]string) ([]EventEnvelope[E], error)
}

// Snapshot is a serialized aggregate state at a given stream version.
type Snapshot struct {
	AggregateType string
	AggregateID   string
	Version       int
	Payload       []byte
	CreatedAt     time.Time
}

// SnapshotStore keeps the latest snapshot per aggregate.
type SnapshotStore interface {
	// LoadSnapshot returns nil without error when no snapshot exists.
	LoadSnapshot(ctx context.Context, aggregateType, aggregateID string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
}

// DispatchTracker records which events have reached every query.
type DispatchTracker interface {
	MarkDispatched(ctx context.Context, eventIDs []string) error
}

// DispatchSource is a store that can hand back events that were appended but
// never fully dispatched.
type DispatchSource[E Event] interface {
	DispatchTracker
	// Undispatched returns up to limit undispatched events recorded before
	// olderThan, ordered by append order. Events that already failed
	// maxAttempts times are left out; zero means no cutoff.
	Undispatched(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]EventEnvelope[E], error)
	RecordDispatchFailure(ctx context.Context, eventID string, cause error) error
}

// QueryDispatchTracker records which queries already applied an event, so a
// retry only re-runs the queries that failed.
type QueryDispatchTracker interface {
	// DispatchedQueries maps each event id to the names of the queries that applied it.
	DispatchedQueries(ctx context.Context, eventIDs []string) (map[string]map[string]bool, error)
	MarkQueryDispatched(ctx context.Context, query string, eventIDs []string) error
}

// StreamLister enumerates the aggregates of a type that have at least one event.
type StreamLister interface {
	AggregateIDs(ctx context.Context, aggregateType string) ([]string, error)
}
