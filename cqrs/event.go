package cqrs

import (
	"time"
)

// Event is implemented by every event that can be appended to a stream.
type Event interface {
	// EventType is the stable name the event is stored under.
	EventType() string
	// EventVersion is the payload schema version, e.g. "1.0.0".
	EventVersion() string
}

// EventEnvelope wraps a committed event with its position in the aggregate stream.
type EventEnvelope[E Event] struct {
	EventID       string            `json:"eventId"`
	AggregateID   string            `json:"aggregateId"`
	AggregateType string            `json:"aggregateType"`
	Sequence      int               `json:"sequence"`
	Event         E                 `json:"event"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	RecordedAt    time.Time         `json:"recordedAt"`
}

// EventCodec converts events to and from their stored representation.
type EventCodec[E Event] interface {
	Encode(event E) (payload []byte, err error)
	// Decode returns an *UnknownEventTypeError or *UnsupportedVersionError when
	// the stored event cannot be interpreted by this build.
	Decode(eventType, version string, payload []byte) (E, error)
}
