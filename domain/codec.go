package domain

import (
	"encoding/json"
	"fmt"

	"github.com/tristan-zander/runback/cqrs"
)

// LobbyEventCodec encodes lobby events as JSON.
type LobbyEventCodec struct{}

// Encode serializes an event payload
func (LobbyEventCodec) Encode(event LobbyEvent) ([]byte, error) {
	if event == nil {
		return nil, fmt.Errorf("cannot encode nil event")
	}
	return json.Marshal(event)
}

// Decode deserializes a stored event payload
func (LobbyEventCodec) Decode(eventType, version string, payload []byte) (LobbyEvent, error) {
	var decode func([]byte) (LobbyEvent, error)
	switch eventType {
	case LobbyOpenedType:
		decode = decodeAs[LobbyOpenedEvent]
	case LobbyClosedType:
		decode = decodeAs[LobbyClosedEvent]
	case PlayerAddedToLobbyType:
		decode = decodeAs[PlayerAddedToLobbyEvent]
	default:
		return nil, &cqrs.UnknownEventTypeError{EventType: eventType}
	}

	if version != EventSchemaVersion {
		return nil, &cqrs.UnsupportedVersionError{EventType: eventType, Version: version}
	}

	event, err := decode(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}
	return event, nil
}

func decodeAs[T LobbyEvent](payload []byte) (LobbyEvent, error) {
	var event T
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return event, nil
}
