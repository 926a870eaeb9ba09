package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/internal/database"
	"github.com/tristan-zander/runback/models"
)

// GormEventStore stores event streams in the events table
type GormEventStore[E cqrs.Event] struct {
	db    *gorm.DB
	codec cqrs.EventCodec[E]
	now   func() time.Time
}

// NewGormEventStore creates a new GORM event store
func NewGormEventStore[E cqrs.Event](db *gorm.DB, codec cqrs.EventCodec[E]) *GormEventStore[E] {
	return &GormEventStore[E]{
		db:    db,
		codec: codec,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Append writes events after checking the stream is still at expectedVersion.
// The unique (aggregate_type, aggregate_id, sequence) index catches writers
// that pass the check concurrently.
func (s *GormEventStore[E]) Append(ctx context.Context, aggregateType, aggregateID string, expectedVersion int, events []E, metadata map[string]string) ([]cqrs.EventEnvelope[E], error) {
	if len(events) == 0 {
		return nil, nil
	}

	var meta []byte
	if len(metadata) > 0 {
		var err error
		if meta, err = json.Marshal(metadata); err != nil {
			return nil, fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	recordedAt := s.now()
	rows := make([]models.Event, 0, len(events))
	committed := make([]cqrs.EventEnvelope[E], 0, len(events))
	for i, event := range events {
		data, err := s.codec.Encode(event)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event data: %w", err)
		}
		row := models.Event{
			EventID:       uuid.New().String(),
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			Sequence:      expectedVersion + i + 1,
			EventType:     event.EventType(),
			EventVersion:  event.EventVersion(),
			Data:          data,
			Metadata:      meta,
			RecordedAt:    recordedAt,
		}
		rows = append(rows, row)
		committed = append(committed, cqrs.EventEnvelope[E]{
			EventID:       row.EventID,
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			Sequence:      row.Sequence,
			Event:         event,
			Metadata:      metadata,
			RecordedAt:    recordedAt,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int
		if err := tx.Model(&models.Event{}).
			Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&current).Error; err != nil {
			return err
		}
		if current != expectedVersion {
			return fmt.Errorf("%w: %s/%s is at version %d, expected %d",
				cqrs.ErrConcurrencyConflict, aggregateType, aggregateID, current, expectedVersion)
		}

		if err := tx.Create(&rows).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s/%s was appended concurrently at version %d",
					cqrs.ErrConcurrencyConflict, aggregateType, aggregateID, expectedVersion)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, cqrs.ErrConcurrencyConflict) {
			return nil, err
		}
		return nil, database.Classify("append events", err)
	}

	for _, row := range rows {
		log.Info().
			Str("aggregateID", aggregateID).
			Str("eventType", row.EventType).
			Int("sequence", row.Sequence).
			Msg("Event saved")
	}
	return committed, nil
}

// Load returns the whole stream in sequence order
func (s *GormEventStore[E]) Load(ctx context.Context, aggregateType, aggregateID string) ([]cqrs.EventEnvelope[E], error) {
	return s.LoadSince(ctx, aggregateType, aggregateID, 0)
}

// LoadSince returns the events after afterSequence
func (s *GormEventStore[E]) LoadSince(ctx context.Context, aggregateType, aggregateID string, afterSequence int) ([]cqrs.EventEnvelope[E], error) {
	var rows []models.Event
	if err := s.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ? AND sequence > ?", aggregateType, aggregateID, afterSequence).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, database.Classify("load events", err)
	}

	envelopes := make([]cqrs.EventEnvelope[E], 0, len(rows))
	for _, row := range rows {
		env, err := s.decode(row)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// Undispatched returns unprocessed events recorded before olderThan, in append order.
// Events that already failed maxAttempts times are left out unless maxAttempts
// is 0. Events that cannot be decoded are parked and skipped.
func (s *GormEventStore[E]) Undispatched(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]cqrs.EventEnvelope[E], error) {
	query := s.db.WithContext(ctx).
		Where("processed = ? AND parked = ? AND recorded_at < ?", false, false, olderThan).
		Order("id ASC")
	if maxAttempts > 0 {
		query = query.Where("attempts < ?", maxAttempts)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.Event
	if err := query.Find(&rows).Error; err != nil {
		return nil, database.Classify("load undispatched events", err)
	}

	envelopes := make([]cqrs.EventEnvelope[E], 0, len(rows))
	for _, row := range rows {
		env, err := s.decode(row)
		if err != nil {
			log.Error().Err(err).Str("eventID", row.EventID).Msg("Parking undecodable event")
			if parkErr := s.park(ctx, row.EventID, err); parkErr != nil {
				return nil, parkErr
			}
			continue
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// MarkDispatched marks events as processed and drops their per-query records
func (s *GormEventStore[E]) MarkDispatched(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Event{}).
			Where("event_id IN ?", eventIDs).
			Updates(map[string]interface{}{
				"processed":    true,
				"processed_at": now,
				"error":        nil,
			}).Error; err != nil {
			return err
		}
		return tx.Where("event_id IN ?", eventIDs).Delete(&models.EventDispatch{}).Error
	})
	return database.Classify("mark events dispatched", err)
}

// DispatchedQueries returns, per event, the queries that already applied it
func (s *GormEventStore[E]) DispatchedQueries(ctx context.Context, eventIDs []string) (map[string]map[string]bool, error) {
	out := make(map[string]map[string]bool)
	if len(eventIDs) == 0 {
		return out, nil
	}

	var rows []models.EventDispatch
	if err := s.db.WithContext(ctx).Where("event_id IN ?", eventIDs).Find(&rows).Error; err != nil {
		return nil, database.Classify("load query dispatches", err)
	}
	for _, row := range rows {
		if out[row.EventID] == nil {
			out[row.EventID] = make(map[string]bool)
		}
		out[row.EventID][row.Query] = true
	}
	return out, nil
}

// MarkQueryDispatched records that query applied the events
func (s *GormEventStore[E]) MarkQueryDispatched(ctx context.Context, query string, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	now := s.now()
	rows := make([]models.EventDispatch, 0, len(eventIDs))
	for _, id := range eventIDs {
		rows = append(rows, models.EventDispatch{EventID: id, Query: query, DispatchedAt: now})
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	return database.Classify("mark query dispatched", err)
}

// RecordDispatchFailure stores the error and bumps the attempt counter
func (s *GormEventStore[E]) RecordDispatchFailure(ctx context.Context, eventID string, cause error) error {
	msg := cause.Error()
	err := s.db.WithContext(ctx).Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"error":    msg,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
	return database.Classify("record dispatch failure", err)
}

func (s *GormEventStore[E]) park(ctx context.Context, eventID string, cause error) error {
	msg := cause.Error()
	err := s.db.WithContext(ctx).Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"error":    msg,
			"parked":   true,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
	return database.Classify("park event", err)
}

// AggregateIDs lists every aggregate of a type that has events
func (s *GormEventStore[E]) AggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Event{}).
		Where("aggregate_type = ?", aggregateType).
		Distinct("aggregate_id").
		Order("aggregate_id").
		Pluck("aggregate_id", &ids).Error; err != nil {
		return nil, database.Classify("list aggregates", err)
	}
	return ids, nil
}

// PendingCount returns the number of events still waiting for dispatch
func (s *GormEventStore[E]) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Event{}).
		Where("processed = ? AND parked = ?", false, false).
		Count(&count).Error
	return count, database.Classify("count undispatched events", err)
}

func (s *GormEventStore[E]) decode(row models.Event) (cqrs.EventEnvelope[E], error) {
	event, err := s.codec.Decode(row.EventType, row.EventVersion, row.Data)
	if err != nil {
		return cqrs.EventEnvelope[E]{}, fmt.Errorf("event %s (%s/%s #%d): %w",
			row.EventID, row.AggregateType, row.AggregateID, row.Sequence, err)
	}

	var metadata map[string]string
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return cqrs.EventEnvelope[E]{}, fmt.Errorf("event %s: failed to unmarshal metadata: %w", row.EventID, err)
		}
	}

	return cqrs.EventEnvelope[E]{
		EventID:       row.EventID,
		AggregateID:   row.AggregateID,
		AggregateType: row.AggregateType,
		Sequence:      row.Sequence,
		Event:         event,
		Metadata:      metadata,
		RecordedAt:    row.RecordedAt,
	}, nil
}
