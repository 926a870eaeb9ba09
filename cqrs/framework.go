package cqrs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DispatchMode selects when committed events reach the queries.
type DispatchMode string

const (
	// DispatchSync hands events to every query before Execute returns.
	DispatchSync DispatchMode = "sync"
	// DispatchAsync leaves events to a worker reading the store's undispatched events.
	DispatchAsync DispatchMode = "async"
)

// Framework is the only component that both appends events and triggers projections.
type Framework[A Aggregate[C, E, S], C any, E Event, S any] struct {
	store             EventStore[E]
	newAggregate      func() A
	services          S
	queries           []Query[E]
	snapshots         SnapshotStore
	snapshotFrequency int
	commandTimeout    time.Duration
	mode              DispatchMode
	errorHandler      ErrorHandler
	now               func() time.Time
}

// NewFramework creates a framework with synchronous dispatch and no snapshots
func NewFramework[A Aggregate[C, E, S], C any, E Event, S any](store EventStore[E], newAggregate func() A, services S) *Framework[A, C, E, S] {
	return &Framework[A, C, E, S]{
		store:        store,
		newAggregate: newAggregate,
		services:     services,
		mode:         DispatchSync,
		errorHandler: LogErrorHandler,
		now:          time.Now,
	}
}

// WithQueries registers the queries that receive committed events
func (f *Framework[A, C, E, S]) WithQueries(queries ...Query[E]) *Framework[A, C, E, S] {
	f.queries = append(f.queries, queries...)
	return f
}

// WithSnapshots enables a snapshot every frequency events. Zero disables it.
func (f *Framework[A, C, E, S]) WithSnapshots(store SnapshotStore, frequency int) *Framework[A, C, E, S] {
	f.snapshots = store
	f.snapshotFrequency = frequency
	return f
}

// WithCommandTimeout bounds the time a command may spend in Handle
func (f *Framework[A, C, E, S]) WithCommandTimeout(timeout time.Duration) *Framework[A, C, E, S] {
	f.commandTimeout = timeout
	return f
}

// WithDispatchMode sets sync or async dispatch
func (f *Framework[A, C, E, S]) WithDispatchMode(mode DispatchMode) *Framework[A, C, E, S] {
	f.mode = mode
	return f
}

// WithErrorHandler replaces the handler told about query failures
func (f *Framework[A, C, E, S]) WithErrorHandler(handler ErrorHandler) *Framework[A, C, E, S] {
	f.errorHandler = handler
	return f
}

// Queries returns the registered queries
func (f *Framework[A, C, E, S]) Queries() []Query[E] {
	return f.queries
}

// AggregateType returns the type name of the aggregates this framework manages
func (f *Framework[A, C, E, S]) AggregateType() string {
	return f.newAggregate().AggregateType()
}

// Execute runs cmd against the aggregate identified by aggregateID.
func (f *Framework[A, C, E, S]) Execute(ctx context.Context, aggregateID string, cmd C) error {
	return f.ExecuteWithMetadata(ctx, aggregateID, cmd, nil)
}

// ExecuteWithMetadata loads the aggregate, handles cmd, appends the resulting
// events at the observed version and dispatches them. Query failures are
// reported to the error handler and never undo the append.
func (f *Framework[A, C, E, S]) ExecuteWithMetadata(ctx context.Context, aggregateID string, cmd C, metadata map[string]string) error {
	aggregate, version, err := f.Load(ctx, aggregateID)
	if err != nil {
		return err
	}
	aggregateType := aggregate.AggregateType()

	events, err := f.handle(ctx, aggregate, cmd)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	committed, err := f.store.Append(ctx, aggregateType, aggregateID, version, events, metadata)
	if err != nil {
		return fmt.Errorf("failed to append events: %w", err)
	}

	log.Info().
		Str("aggregateType", aggregateType).
		Str("aggregateID", aggregateID).
		Int("fromVersion", version).
		Int("events", len(committed)).
		Msg("Events committed")

	for _, event := range events {
		aggregate.Apply(event)
	}
	f.snapshot(ctx, aggregate, aggregateID, version, version+len(events))

	if f.mode == DispatchAsync {
		return nil
	}
	f.Dispatch(ctx, aggregateID, committed)
	return nil
}

// Dispatch hands committed envelopes to every query and, when all of them
// succeed, marks the events dispatched in stores that track it. Stores that
// track dispatch per query keep a query that already applied an event from
// seeing it again.
func (f *Framework[A, C, E, S]) Dispatch(ctx context.Context, aggregateID string, committed []EventEnvelope[E]) bool {
	queryTracker, _ := f.store.(QueryDispatchTracker)
	if !DispatchPending(ctx, f.queries, queryTracker, aggregateID, committed, f.errorHandler) {
		return false
	}

	tracker, ok := f.store.(DispatchTracker)
	if !ok {
		return true
	}
	ids := make([]string, 0, len(committed))
	for _, env := range committed {
		ids = append(ids, env.EventID)
	}
	if err := tracker.MarkDispatched(ctx, ids); err != nil {
		log.Error().Err(err).Str("aggregateID", aggregateID).Msg("Failed to mark events as dispatched")
		return false
	}
	return true
}

// Load rebuilds the current state of an aggregate and returns it with its version.
// An aggregate without events is returned in its zero state at version 0.
func (f *Framework[A, C, E, S]) Load(ctx context.Context, aggregateID string) (A, int, error) {
	aggregate := f.newAggregate()
	aggregateType := aggregate.AggregateType()
	version := 0

	if f.snapshots != nil && f.snapshotFrequency > 0 {
		snap, err := f.snapshots.LoadSnapshot(ctx, aggregateType, aggregateID)
		if err != nil {
			return aggregate, 0, fmt.Errorf("failed to load snapshot: %w", err)
		}
		if snap != nil {
			restored := f.newAggregate()
			if err := json.Unmarshal(snap.Payload, restored); err != nil {
				log.Warn().Err(err).Str("aggregateID", aggregateID).Int("version", snap.Version).
					Msg("Ignoring unreadable snapshot")
			} else {
				aggregate = restored
				version = snap.Version
			}
		}
	}

	envelopes, err := f.store.LoadSince(ctx, aggregateType, aggregateID, version)
	if err != nil {
		return aggregate, 0, fmt.Errorf("failed to load events: %w", err)
	}
	for _, env := range envelopes {
		if env.Sequence != version+1 {
			return aggregate, 0, fmt.Errorf("stream %s/%s has a gap: expected sequence %d, got %d",
				aggregateType, aggregateID, version+1, env.Sequence)
		}
		aggregate.Apply(env.Event)
		version = env.Sequence
	}
	return aggregate, version, nil
}

func (f *Framework[A, C, E, S]) handle(ctx context.Context, aggregate A, cmd C) ([]E, error) {
	if f.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.commandTimeout)
		defer cancel()
	}

	events, err := aggregate.Handle(ctx, cmd, f.services)
	if err != nil {
		return nil, err
	}
	// A service may ignore ctx; a command that outlived its deadline still fails.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("command timed out: %w", ctxErr)
	}
	return events, nil
}

func (f *Framework[A, C, E, S]) snapshot(ctx context.Context, aggregate A, aggregateID string, from, to int) {
	if f.snapshots == nil || f.snapshotFrequency <= 0 {
		return
	}
	if to/f.snapshotFrequency == from/f.snapshotFrequency {
		return
	}

	payload, err := json.Marshal(aggregate)
	if err != nil {
		log.Error().Err(err).Str("aggregateID", aggregateID).Msg("Failed to serialize snapshot")
		return
	}
	snap := Snapshot{
		AggregateType: aggregate.AggregateType(),
		AggregateID:   aggregateID,
		Version:       to,
		Payload:       payload,
		CreatedAt:     f.now(),
	}
	if err := f.snapshots.SaveSnapshot(ctx, snap); err != nil {
		log.Error().Err(err).Str("aggregateID", aggregateID).Int("version", to).Msg("Failed to save snapshot")
	}
}

// LogErrorHandler logs query failures
func LogErrorHandler(ctx context.Context, query string, aggregateID string, err error) {
	log.Error().
		Err(err).
		Str("query", query).
		Str("aggregateID", aggregateID).
		Bool("connection", IsConnectionError(err)).
		Msg("Query failed to apply events")
}
