package domain

import (
	"time"
)

// Event type constants
const (
	LobbyOpenedType        = "LobbyOpened"
	LobbyClosedType        = "LobbyClosed"
	PlayerAddedToLobbyType = "PlayerAddedToLobby"

	// EventSchemaVersion is the payload version written for every lobby event.
	EventSchemaVersion = "1.0.0"
)

// LobbyEvent is the closed set of events a lobby stream may contain.
type LobbyEvent interface {
	EventType() string
	EventVersion() string
	isLobbyEvent()
}

// LobbyOpenedEvent represents a lobby being opened
type LobbyOpenedEvent struct {
	OwnerID   Snowflake `json:"owner_id"`
	ChannelID Snowflake `json:"channel_id"`
	OpenedAt  time.Time `json:"opened_at"`
}

// LobbyClosedEvent represents a lobby being closed
type LobbyClosedEvent struct {
	At time.Time `json:"at"`
}

// PlayerAddedToLobbyEvent represents a player joining a lobby
type PlayerAddedToLobbyEvent struct {
	PlayerID Snowflake `json:"player_id"`
}

func (LobbyOpenedEvent) EventType() string        { return LobbyOpenedType }
func (LobbyClosedEvent) EventType() string        { return LobbyClosedType }
func (PlayerAddedToLobbyEvent) EventType() string { return PlayerAddedToLobbyType }

func (LobbyOpenedEvent) EventVersion() string        { return EventSchemaVersion }
func (LobbyClosedEvent) EventVersion() string        { return EventSchemaVersion }
func (PlayerAddedToLobbyEvent) EventVersion() string { return EventSchemaVersion }

func (LobbyOpenedEvent) isLobbyEvent()        {}
func (LobbyClosedEvent) isLobbyEvent()        {}
func (PlayerAddedToLobbyEvent) isLobbyEvent() {}
