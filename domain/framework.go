package domain

import (
	"github.com/tristan-zander/runback/cqrs"
)

// LobbyFramework runs lobby commands.
type LobbyFramework = cqrs.Framework[*Lobby, LobbyCommand, LobbyEvent, LobbyServices]

// LobbyQuery receives committed lobby events.
type LobbyQuery = cqrs.Query[LobbyEvent]

// LobbyEnvelope is a committed lobby event.
type LobbyEnvelope = cqrs.EventEnvelope[LobbyEvent]

// NewLobbyFramework creates a framework for lobby streams
func NewLobbyFramework(store cqrs.EventStore[LobbyEvent], services LobbyServices) *LobbyFramework {
	return cqrs.NewFramework[*Lobby, LobbyCommand, LobbyEvent, LobbyServices](store, NewLobby, services)
}
