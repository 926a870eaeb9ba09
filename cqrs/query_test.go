package cqrs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelopes(aggregateID string, events ...counterEvent) []EventEnvelope[counterEvent] {
	out := make([]EventEnvelope[counterEvent], 0, len(events))
	for i, e := range events {
		out = append(out, EventEnvelope[counterEvent]{
			EventID:       aggregateID + "-" + string(rune('a'+i)),
			AggregateID:   aggregateID,
			AggregateType: "counter",
			Sequence:      i + 1,
			Event:         e,
		})
	}
	return out
}

func newCounterQuery() (*GenericQuery[*counterView, counterEvent], *MemoryViewRepository[*counterView]) {
	repo := NewMemoryViewRepository(newCounterView)
	return NewGenericQuery[*counterView, counterEvent]("counter_view", repo, newCounterView), repo
}

func TestGenericQuery_ConvergesWithDirectFold(t *testing.T) {
	ctx := context.Background()
	query, repo := newCounterQuery()
	stream := envelopes("c1", incremented{By: 2}, incremented{By: 5}, reset{}, incremented{By: 1})

	// Deliver one envelope at a time, as synchronous dispatch does.
	for _, env := range stream {
		require.NoError(t, query.Dispatch(ctx, "c1", []EventEnvelope[counterEvent]{env}))
	}

	expected := newCounterView()
	for _, env := range stream {
		expected.Update(env)
	}

	view, vc, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, vc)
	assert.Equal(t, expected, view)
	assert.Equal(t, 4, vc.Version)
}

func TestGenericQuery_SkipsRedelivery(t *testing.T) {
	ctx := context.Background()
	query, repo := newCounterQuery()
	stream := envelopes("c1", incremented{By: 2}, incremented{By: 3})

	require.NoError(t, query.Dispatch(ctx, "c1", stream))
	require.NoError(t, query.Dispatch(ctx, "c1", stream))
	require.NoError(t, query.Dispatch(ctx, "c1", stream[1:]))

	view, vc, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 5, view.Total)
	assert.Equal(t, []int{1, 2}, view.Events)
	assert.Equal(t, 2, vc.Version)
}

func TestGenericQuery_RejectsGap(t *testing.T) {
	ctx := context.Background()
	query, repo := newCounterQuery()
	stream := envelopes("c1", incremented{By: 2}, incremented{By: 3}, incremented{By: 4})

	require.NoError(t, query.Dispatch(ctx, "c1", stream[:1]))
	err := query.Dispatch(ctx, "c1", stream[2:])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrViewOutOfOrder)

	var pe *ProjectionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "counter_view", pe.Query)
	assert.Equal(t, 3, pe.Sequence)

	_, vc, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, vc.Version)
}

func TestGenericQuery_FillsGapFromStream(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore[counterEvent]()
	committed, err := store.Append(ctx, "counter", "c1", 0,
		[]counterEvent{incremented{By: 2}, incremented{By: 3}, incremented{By: 4}}, nil)
	require.NoError(t, err)

	query, repo := newCounterQuery()
	query.WithStreamLoader(func(ctx context.Context, aggregateID string, afterSequence int) ([]EventEnvelope[counterEvent], error) {
		return store.LoadSince(ctx, "counter", aggregateID, afterSequence)
	})

	require.NoError(t, query.Dispatch(ctx, "c1", committed[:1]))

	// Evicted views start over from an empty stream position.
	repo.mu.Lock()
	delete(repo.views, "c1")
	repo.mu.Unlock()

	require.NoError(t, query.Dispatch(ctx, "c1", committed[2:]))

	view, vc, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, vc)
	assert.Equal(t, 3, vc.Version)
	assert.Equal(t, 9, view.Total)
	assert.Equal(t, []int{1, 2, 3}, view.Events)

	version, err := query.ViewVersion(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestGenericQuery_GapStillFailsWhenStreamIsShort(t *testing.T) {
	ctx := context.Background()
	query, repo := newCounterQuery()
	stream := envelopes("c1", incremented{By: 2}, incremented{By: 3}, incremented{By: 4})
	query.WithStreamLoader(func(ctx context.Context, aggregateID string, afterSequence int) ([]EventEnvelope[counterEvent], error) {
		return nil, nil
	})

	err := query.Dispatch(ctx, "c1", stream[2:])
	assert.ErrorIs(t, err, ErrViewOutOfOrder)

	_, vc, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, vc)
}

func TestGenericQuery_Rebuild(t *testing.T) {
	ctx := context.Background()
	query, repo := newCounterQuery()
	stream := envelopes("c1", incremented{By: 2}, incremented{By: 3}, incremented{By: 4})

	require.NoError(t, query.Dispatch(ctx, "c1", stream[:1]))
	require.NoError(t, query.Rebuild(ctx, "c1", stream))

	view, vc, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 9, view.Total)
	assert.Equal(t, 3, vc.Version)

	require.NoError(t, query.Rebuild(ctx, "c2", envelopes("c2", incremented{By: 7})))
	view, vc, err = repo.Load(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, 7, view.Total)
	assert.Equal(t, 1, vc.Version)
}

func TestMemoryViewRepository_Errors(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryViewRepository(newCounterView)

	view, vc, err := repo.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, vc)
	assert.Nil(t, view)

	err = repo.Update(ctx, &counterView{Total: 1}, ViewContext{ViewInstanceID: "missing", Version: 2, PreviousVersion: 1})
	assert.ErrorIs(t, err, ErrViewNotFound)

	require.NoError(t, repo.Create(ctx, &counterView{Total: 1}, ViewContext{ViewInstanceID: "v1", Version: 1}))
	err = repo.Create(ctx, &counterView{Total: 1}, ViewContext{ViewInstanceID: "v1", Version: 1})
	assert.ErrorIs(t, err, ErrViewAlreadyExists)

	err = repo.Update(ctx, &counterView{Total: 2}, ViewContext{ViewInstanceID: "v1", Version: 3, PreviousVersion: 2})
	assert.ErrorIs(t, err, ErrViewVersionConflict)
	assert.True(t, IsViewConflict(err))

	require.NoError(t, repo.Update(ctx, &counterView{Total: 2}, ViewContext{ViewInstanceID: "v1", Version: 2, PreviousVersion: 1}))
	loaded, vc, err := repo.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Total)
	assert.Equal(t, 2, vc.Version)
}

func TestDispatchPending_ReportsEveryFailure(t *testing.T) {
	ctx := context.Background()
	a := &recordingQuery{name: "a", err: &PersistenceError{Kind: KindConnection, Op: "update view", Err: errBackendDown}}
	b := &recordingQuery{name: "b", err: errBackendDown}
	c := &recordingQuery{name: "c"}

	var failed []string
	var connection []bool
	ok := DispatchPending(ctx, []Query[counterEvent]{a, b, c}, nil, "c1", envelopes("c1", incremented{By: 1}),
		func(ctx context.Context, query, aggregateID string, err error) {
			failed = append(failed, query)
			connection = append(connection, IsConnectionError(err))
		})

	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, failed)
	assert.Equal(t, []bool{true, false}, connection)
	assert.Len(t, c.received, 1)
}

func TestDispatchPending_RetriesOnlyFailedQueries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore[counterEvent]()
	committed, err := store.Append(ctx, "counter", "c1", 0, []counterEvent{incremented{By: 1}}, nil)
	require.NoError(t, err)

	failing := &recordingQuery{name: "failing", err: errBackendDown}
	publisher := &recordingQuery{name: "publisher"}
	queries := []Query[counterEvent]{failing, publisher}

	assert.False(t, DispatchPending(ctx, queries, store, "c1", committed, nil))
	failing.err = nil
	assert.True(t, DispatchPending(ctx, queries, store, "c1", committed, nil))

	assert.Len(t, failing.received, 2)
	assert.Len(t, publisher.received, 1)

	done, err := store.DispatchedQueries(ctx, []string{committed[0].EventID})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"failing": true, "publisher": true}, done[committed[0].EventID])

	require.NoError(t, store.MarkDispatched(ctx, []string{committed[0].EventID}))
	done, err = store.DispatchedQueries(ctx, []string{committed[0].EventID})
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestMemoryEventStore_UndispatchedSkipsExhaustedEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore[counterEvent]()
	first, err := store.Append(ctx, "counter", "c1", 0, []counterEvent{incremented{By: 1}}, nil)
	require.NoError(t, err)
	_, err = store.Append(ctx, "counter", "c2", 0, []counterEvent{incremented{By: 2}}, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordDispatchFailure(ctx, first[0].EventID, errBackendDown))
	}

	cutoff := time.Now().Add(time.Minute)
	pending, err := store.Undispatched(ctx, cutoff, 3, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c2", pending[0].AggregateID)

	pending, err = store.Undispatched(ctx, cutoff, 0, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
