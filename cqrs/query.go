package cqrs

import (
	"context"
	"errors"
	"fmt"
)

// Query receives committed events for one aggregate instance, in stream order.
type Query[E Event] interface {
	Name() string
	Dispatch(ctx context.Context, aggregateID string, events []EventEnvelope[E]) error
}

// View is a materialized read model built by folding envelopes.
type View[E Event] interface {
	Update(envelope EventEnvelope[E])
}

// ViewContext carries the optimistic token of a stored view instance.
type ViewContext struct {
	ViewInstanceID string
	// Version is the number of events folded into the view.
	Version int
	// PreviousVersion is the version the stored row must have for an update to apply.
	PreviousVersion int
}

// ViewRepository loads and stores views of type V.
type ViewRepository[V any] interface {
	// Load returns a nil context without error when the view does not exist.
	Load(ctx context.Context, viewID string) (V, *ViewContext, error)
	// Create fails with ErrViewAlreadyExists when a row exists for the id.
	Create(ctx context.Context, view V, vc ViewContext) error
	// Update fails with ErrViewNotFound when no row exists and with
	// ErrViewVersionConflict when the stored version is not vc.PreviousVersion.
	Update(ctx context.Context, view V, vc ViewContext) error
}

// StreamLoader returns the events of an aggregate after afterSequence.
type StreamLoader[E Event] func(ctx context.Context, aggregateID string, afterSequence int) ([]EventEnvelope[E], error)

// GenericQuery keeps one view per aggregate instance in sync with its stream.
// Re-delivered envelopes are skipped. A gap, such as a view evicted from a
// cache, is filled from the stream loader when one is set and is otherwise
// reported as ErrViewOutOfOrder.
type GenericQuery[V View[E], E Event] struct {
	name    string
	repo    ViewRepository[V]
	newView func() V
	stream  StreamLoader[E]
}

// NewGenericQuery creates a query writing views through repo
func NewGenericQuery[V View[E], E Event](name string, repo ViewRepository[V], newView func() V) *GenericQuery[V, E] {
	return &GenericQuery[V, E]{
		name:    name,
		repo:    repo,
		newView: newView,
	}
}

// WithStreamLoader lets the query fill gaps from the event store
func (q *GenericQuery[V, E]) WithStreamLoader(loader StreamLoader[E]) *GenericQuery[V, E] {
	q.stream = loader
	return q
}

// Name returns the query name
func (q *GenericQuery[V, E]) Name() string {
	return q.name
}

// ViewVersion returns the stored version of a view, 0 when it does not exist
func (q *GenericQuery[V, E]) ViewVersion(ctx context.Context, aggregateID string) (int, error) {
	_, vc, err := q.load(ctx, aggregateID)
	if err != nil {
		return 0, err
	}
	return vc.Version, nil
}

// Dispatch folds the envelopes into the stored view and writes it back once.
func (q *GenericQuery[V, E]) Dispatch(ctx context.Context, aggregateID string, events []EventEnvelope[E]) error {
	view, current, err := q.load(ctx, aggregateID)
	if err != nil {
		return err
	}

	next := ViewContext{
		ViewInstanceID:  current.ViewInstanceID,
		Version:         current.Version,
		PreviousVersion: current.Version,
	}
	filled := false
	for i := 0; i < len(events); i++ {
		env := events[i]
		if env.Sequence <= next.Version {
			continue
		}
		if env.Sequence != next.Version+1 {
			if q.stream == nil || filled {
				return &ProjectionError{
					Query:       q.name,
					AggregateID: aggregateID,
					Sequence:    env.Sequence,
					Err:         fmt.Errorf("%w: view at version %d", ErrViewOutOfOrder, next.Version),
				}
			}
			missing, err := q.stream(ctx, aggregateID, next.Version)
			if err != nil {
				return &ProjectionError{Query: q.name, AggregateID: aggregateID, Sequence: env.Sequence, Err: err}
			}
			filled = true
			events = append(missing, events[i:]...)
			i = -1
			continue
		}
		view.Update(env)
		next.Version++
	}

	if next.Version == current.Version {
		return nil
	}
	return q.write(ctx, aggregateID, view, next)
}

// Rebuild replaces the stored view with one folded from the full stream.
func (q *GenericQuery[V, E]) Rebuild(ctx context.Context, aggregateID string, events []EventEnvelope[E]) error {
	if len(events) == 0 {
		return nil
	}

	_, current, err := q.load(ctx, aggregateID)
	if err != nil {
		return err
	}

	view := q.newView()
	for _, env := range events {
		view.Update(env)
	}

	next := ViewContext{
		ViewInstanceID:  aggregateID,
		Version:         events[len(events)-1].Sequence,
		PreviousVersion: current.Version,
	}
	return q.write(ctx, aggregateID, view, next)
}

func (q *GenericQuery[V, E]) load(ctx context.Context, aggregateID string) (V, ViewContext, error) {
	view, vc, err := q.repo.Load(ctx, aggregateID)
	if err != nil {
		var zero V
		return zero, ViewContext{}, &ProjectionError{Query: q.name, AggregateID: aggregateID, Err: err}
	}
	if vc == nil {
		return q.newView(), ViewContext{ViewInstanceID: aggregateID}, nil
	}
	return view, *vc, nil
}

func (q *GenericQuery[V, E]) write(ctx context.Context, aggregateID string, view V, vc ViewContext) error {
	var err error
	if vc.PreviousVersion == 0 {
		err = q.repo.Create(ctx, view, vc)
	} else {
		err = q.repo.Update(ctx, view, vc)
	}
	if err != nil {
		return &ProjectionError{Query: q.name, AggregateID: aggregateID, Sequence: vc.Version, Err: err}
	}
	return nil
}

// ErrorHandler is told about every query that failed to apply committed events.
type ErrorHandler func(ctx context.Context, query string, aggregateID string, err error)

// DispatchPending hands each query, in order, the events it has not applied
// yet. With a tracker, events a query already applied are left out and the
// ones it applies now are recorded; a nil tracker dispatches everything to
// every query. Failures go to onError and do not stop later queries. It
// reports whether every query succeeded.
func DispatchPending[E Event](ctx context.Context, queries []Query[E], tracker QueryDispatchTracker, aggregateID string, events []EventEnvelope[E], onError ErrorHandler) bool {
	fail := func(query string, err error) {
		if onError != nil {
			onError(ctx, query, aggregateID, err)
		}
	}

	var done map[string]map[string]bool
	if tracker != nil {
		var err error
		done, err = tracker.DispatchedQueries(ctx, eventIDs(events))
		if err != nil {
			for _, q := range queries {
				fail(q.Name(), err)
			}
			return false
		}
	}

	ok := true
	for _, q := range queries {
		pending := events
		if len(done) > 0 {
			pending = make([]EventEnvelope[E], 0, len(events))
			for _, env := range events {
				if !done[env.EventID][q.Name()] {
					pending = append(pending, env)
				}
			}
		}
		if len(pending) == 0 {
			continue
		}

		if err := q.Dispatch(ctx, aggregateID, pending); err != nil {
			ok = false
			fail(q.Name(), err)
			continue
		}
		if tracker != nil {
			if err := tracker.MarkQueryDispatched(ctx, q.Name(), eventIDs(pending)); err != nil {
				ok = false
				fail(q.Name(), err)
			}
		}
	}
	return ok
}

func eventIDs[E Event](events []EventEnvelope[E]) []string {
	ids := make([]string, 0, len(events))
	for _, env := range events {
		ids = append(ids, env.EventID)
	}
	return ids
}

// IsViewConflict reports whether err means the stored view moved underneath the writer.
func IsViewConflict(err error) bool {
	return errors.Is(err, ErrViewVersionConflict) || errors.Is(err, ErrViewAlreadyExists)
}
