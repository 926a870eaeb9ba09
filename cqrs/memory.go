package cqrs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type streamKey struct {
	aggregateType string
	aggregateID   string
}

type memoryRecord[E Event] struct {
	position   int
	envelope   EventEnvelope[E]
	dispatched bool
	queries    map[string]bool
	attempts   int
	lastError  string
}

// MemoryEventStore keeps streams in process memory. It is safe for concurrent use.
type MemoryEventStore[E Event] struct {
	mu       sync.RWMutex
	streams  map[streamKey][]*memoryRecord[E]
	byID     map[string]*memoryRecord[E]
	position int
	now      func() time.Time
}

// NewMemoryEventStore creates an empty in-memory event store
func NewMemoryEventStore[E Event]() *MemoryEventStore[E] {
	return &MemoryEventStore[E]{
		streams: make(map[streamKey][]*memoryRecord[E]),
		byID:    make(map[string]*memoryRecord[E]),
		now:     time.Now,
	}
}

// Load returns the whole stream
func (s *MemoryEventStore[E]) Load(ctx context.Context, aggregateType, aggregateID string) ([]EventEnvelope[E], error) {
	return s.LoadSince(ctx, aggregateType, aggregateID, 0)
}

// LoadSince returns events after afterSequence
func (s *MemoryEventStore[E]) LoadSince(ctx context.Context, aggregateType, aggregateID string, afterSequence int) ([]EventEnvelope[E], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.streams[streamKey{aggregateType, aggregateID}]
	envelopes := make([]EventEnvelope[E], 0, len(records))
	for _, rec := range records {
		if rec.envelope.Sequence > afterSequence {
			envelopes = append(envelopes, rec.envelope)
		}
	}
	return envelopes, nil
}

// Append adds events when the stream is at expectedVersion
func (s *MemoryEventStore[E]) Append(ctx context.Context, aggregateType, aggregateID string, expectedVersion int, events []E, metadata map[string]string) ([]EventEnvelope[E], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{aggregateType, aggregateID}
	stream := s.streams[key]
	if len(stream) != expectedVersion {
		return nil, fmt.Errorf("%w: %s/%s is at version %d, expected %d",
			ErrConcurrencyConflict, aggregateType, aggregateID, len(stream), expectedVersion)
	}

	recordedAt := s.now()
	committed := make([]EventEnvelope[E], 0, len(events))
	for i, event := range events {
		s.position++
		rec := &memoryRecord[E]{
			position: s.position,
			envelope: EventEnvelope[E]{
				EventID:       uuid.New().String(),
				AggregateID:   aggregateID,
				AggregateType: aggregateType,
				Sequence:      expectedVersion + i + 1,
				Event:         event,
				Metadata:      copyMetadata(metadata),
				RecordedAt:    recordedAt,
			},
		}
		stream = append(stream, rec)
		s.byID[rec.envelope.EventID] = rec
		committed = append(committed, rec.envelope)
	}
	s.streams[key] = stream
	return committed, nil
}

// MarkDispatched flags events as delivered to every query
func (s *MemoryEventStore[E]) MarkDispatched(ctx context.Context, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range eventIDs {
		if rec, ok := s.byID[id]; ok {
			rec.dispatched = true
			rec.queries = nil
			rec.lastError = ""
		}
	}
	return nil
}

// Undispatched returns events not yet marked as dispatched
func (s *MemoryEventStore[E]) Undispatched(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]EventEnvelope[E], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]*memoryRecord[E], 0)
	for _, rec := range s.byID {
		if rec.dispatched || !rec.envelope.RecordedAt.Before(olderThan) {
			continue
		}
		if maxAttempts > 0 && rec.attempts >= maxAttempts {
			continue
		}
		pending = append(pending, rec)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].position < pending[j].position })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	envelopes := make([]EventEnvelope[E], 0, len(pending))
	for _, rec := range pending {
		envelopes = append(envelopes, rec.envelope)
	}
	return envelopes, nil
}

// RecordDispatchFailure keeps the last dispatch error of an event and counts the attempt
func (s *MemoryEventStore[E]) RecordDispatchFailure(ctx context.Context, eventID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.byID[eventID]; ok {
		rec.attempts++
		rec.lastError = cause.Error()
	}
	return nil
}

// DispatchedQueries returns the queries that applied each event
func (s *MemoryEventStore[E]) DispatchedQueries(ctx context.Context, eventIDs []string) (map[string]map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		rec, ok := s.byID[id]
		if !ok || len(rec.queries) == 0 {
			continue
		}
		names := make(map[string]bool, len(rec.queries))
		for name := range rec.queries {
			names[name] = true
		}
		out[id] = names
	}
	return out, nil
}

// MarkQueryDispatched records that query applied the events
func (s *MemoryEventStore[E]) MarkQueryDispatched(ctx context.Context, query string, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range eventIDs {
		rec, ok := s.byID[id]
		if !ok || rec.dispatched {
			continue
		}
		if rec.queries == nil {
			rec.queries = make(map[string]bool)
		}
		rec.queries[query] = true
	}
	return nil
}

// AggregateIDs lists every aggregate of a type that has events
func (s *MemoryEventStore[E]) AggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for key := range s.streams {
		if key.aggregateType == aggregateType {
			ids = append(ids, key.aggregateID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func copyMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

// MemorySnapshotStore keeps the latest snapshot per aggregate in memory.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[streamKey]Snapshot
}

// NewMemorySnapshotStore creates an empty snapshot store
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[streamKey]Snapshot)}
}

// LoadSnapshot returns the latest snapshot or nil
func (s *MemorySnapshotStore) LoadSnapshot(ctx context.Context, aggregateType, aggregateID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[streamKey{aggregateType, aggregateID}]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// SaveSnapshot keeps snapshot if it is newer than the stored one
func (s *MemorySnapshotStore) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{snapshot.AggregateType, snapshot.AggregateID}
	if existing, ok := s.snapshots[key]; ok && existing.Version >= snapshot.Version {
		return nil
	}
	s.snapshots[key] = snapshot
	return nil
}

type memoryView struct {
	version int
	data    []byte
}

// MemoryViewRepository stores JSON copies of views in memory.
type MemoryViewRepository[V any] struct {
	mu      sync.RWMutex
	views   map[string]memoryView
	newView func() V
}

// NewMemoryViewRepository creates an empty repository; newView allocates the
// value loaded views are decoded into.
func NewMemoryViewRepository[V any](newView func() V) *MemoryViewRepository[V] {
	return &MemoryViewRepository[V]{
		views:   make(map[string]memoryView),
		newView: newView,
	}
}

// Load returns the stored view or a nil context when absent
func (r *MemoryViewRepository[V]) Load(ctx context.Context, viewID string) (V, *ViewContext, error) {
	r.mu.RLock()
	stored, ok := r.views[viewID]
	r.mu.RUnlock()

	if !ok {
		var zero V
		return zero, nil, nil
	}
	view := r.newView()
	if err := json.Unmarshal(stored.data, view); err != nil {
		return view, nil, &PersistenceError{Kind: KindUnknown, Op: "load view", Err: err}
	}
	return view, &ViewContext{ViewInstanceID: viewID, Version: stored.version, PreviousVersion: stored.version}, nil
}

// Create inserts a new view
func (r *MemoryViewRepository[V]) Create(ctx context.Context, view V, vc ViewContext) error {
	data, err := json.Marshal(view)
	if err != nil {
		return &PersistenceError{Kind: KindUnknown, Op: "create view", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.views[vc.ViewInstanceID]; ok {
		return fmt.Errorf("%w: %s", ErrViewAlreadyExists, vc.ViewInstanceID)
	}
	r.views[vc.ViewInstanceID] = memoryView{version: vc.Version, data: data}
	return nil
}

// Update replaces a view stored at vc.PreviousVersion
func (r *MemoryViewRepository[V]) Update(ctx context.Context, view V, vc ViewContext) error {
	data, err := json.Marshal(view)
	if err != nil {
		return &PersistenceError{Kind: KindUnknown, Op: "update view", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.views[vc.ViewInstanceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrViewNotFound, vc.ViewInstanceID)
	}
	if stored.version != vc.PreviousVersion {
		return fmt.Errorf("%w: %s is at version %d, expected %d",
			ErrViewVersionConflict, vc.ViewInstanceID, stored.version, vc.PreviousVersion)
	}
	r.views[vc.ViewInstanceID] = memoryView{version: vc.Version, data: data}
	return nil
}
