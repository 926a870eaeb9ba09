package models

import (
	"time"
)

// Event represents a stored domain event
type Event struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	EventID       string     `gorm:"size:36;uniqueIndex" json:"event_id"`
	AggregateType string     `gorm:"size:64;not null;uniqueIndex:idx_events_stream,priority:1" json:"aggregate_type"`
	AggregateID   string     `gorm:"size:64;not null;uniqueIndex:idx_events_stream,priority:2" json:"aggregate_id"`
	Sequence      int        `gorm:"not null;uniqueIndex:idx_events_stream,priority:3" json:"sequence"`
	EventType     string     `gorm:"size:128;not null" json:"event_type"`
	EventVersion  string     `gorm:"size:16;not null" json:"event_version"`
	Data          []byte     `json:"data"`
	Metadata      []byte     `json:"metadata"`
	RecordedAt    time.Time  `gorm:"index" json:"recorded_at"`
	Processed     bool       `gorm:"index" json:"processed"`
	ProcessedAt   *time.Time `json:"processed_at"`
	Attempts      int        `json:"attempts"`
	Parked        bool       `gorm:"index" json:"parked"`
	Error         *string    `json:"error"`
}

// EventDispatch records that one query applied one event that is not yet
// fully dispatched. Rows are dropped once the event is marked processed.
type EventDispatch struct {
	EventID      string    `gorm:"primaryKey;size:36" json:"event_id"`
	Query        string    `gorm:"primaryKey;size:64" json:"query"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// Snapshot is the latest serialized state of an aggregate
type Snapshot struct {
	AggregateType string    `gorm:"primaryKey;size:64" json:"aggregate_type"`
	AggregateID   string    `gorm:"primaryKey;size:64" json:"aggregate_id"`
	Version       int       `gorm:"not null" json:"version"`
	Payload       []byte    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}
