package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/tristan-zander/runback/cqrs"
)

// LobbyAggregateType is the aggregate type lobby streams are stored under.
const LobbyAggregateType = "lobby"

// LobbyInfo is the state of a lobby that has been opened.
type LobbyInfo struct {
	OwnerID   Snowflake   `json:"owner_id"`
	ChannelID Snowflake   `json:"channel_id"`
	Players   []Snowflake `json:"players"`
	OpenedAt  time.Time   `json:"opened_at"`
	ClosedAt  *time.Time  `json:"closed_at,omitempty"`
}

// Lobby is the event-sourced matchmaking lobby. Info is nil until the lobby is opened.
type Lobby struct {
	Info *LobbyInfo `json:"info,omitempty"`
}

// NewLobby creates a lobby in its unopened state
func NewLobby() *Lobby {
	return &Lobby{}
}

// AggregateType returns the aggregate type
func (l *Lobby) AggregateType() string {
	return LobbyAggregateType
}

// IsOpen reports whether the lobby has been opened and not closed
func (l *Lobby) IsOpen() bool {
	return l.Info != nil && l.Info.ClosedAt == nil
}

// HasPlayer reports whether the player is in the lobby
func (l *Lobby) HasPlayer(id Snowflake) bool {
	if l.Info == nil {
		return false
	}
	for _, p := range l.Info.Players {
		if p == id {
			return true
		}
	}
	return false
}

// Handle decides which events a command produces. It never mutates the lobby.
func (l *Lobby) Handle(ctx context.Context, cmd LobbyCommand, services LobbyServices) ([]LobbyEvent, error) {
	switch c := cmd.(type) {
	case OpenLobby:
		return l.handleOpen(ctx, c, services)
	case CloseLobby:
		return l.handleClose(services)
	case AddPlayerToLobby:
		return l.handleAddPlayer(c)
	}
	return nil, fmt.Errorf("lobby: unsupported command %T", cmd)
}

func (l *Lobby) handleOpen(ctx context.Context, cmd OpenLobby, services LobbyServices) ([]LobbyEvent, error) {
	if l.Info != nil {
		return nil, cqrs.NewDomainError("This lobby has already been opened.")
	}
	if cmd.OwnerID == 0 || cmd.ChannelID == 0 {
		return nil, cqrs.NewDomainError("A lobby needs an owner and a channel.")
	}
	if services.Lobbies != nil {
		if err := services.Lobbies.OpenLobby(ctx, cmd.OwnerID, cmd.ChannelID); err != nil {
			return nil, err
		}
	}

	return []LobbyEvent{LobbyOpenedEvent{
		OwnerID:   cmd.OwnerID,
		ChannelID: cmd.ChannelID,
		OpenedAt:  services.now(),
	}}, nil
}

func (l *Lobby) handleClose(services LobbyServices) ([]LobbyEvent, error) {
	if err := l.requireOpen(); err != nil {
		return nil, err
	}
	return []LobbyEvent{LobbyClosedEvent{At: services.now()}}, nil
}

func (l *Lobby) handleAddPlayer(cmd AddPlayerToLobby) ([]LobbyEvent, error) {
	if err := l.requireOpen(); err != nil {
		return nil, err
	}
	if cmd.PlayerID == 0 {
		return nil, cqrs.NewDomainError("A player id is required.")
	}
	if l.HasPlayer(cmd.PlayerID) {
		return nil, cqrs.NewDomainError("<@%s> is already in this lobby.", cmd.PlayerID)
	}
	return []LobbyEvent{PlayerAddedToLobbyEvent{PlayerID: cmd.PlayerID}}, nil
}

func (l *Lobby) requireOpen() error {
	if l.Info == nil {
		return cqrs.NewDomainError("This lobby has not been opened.")
	}
	if l.Info.ClosedAt != nil {
		return cqrs.NewDomainError("This lobby is already closed.")
	}
	return nil
}

// Apply folds an event into the lobby state. An event that does not fit the
// current state means the stored stream is corrupt, and Apply panics.
func (l *Lobby) Apply(event LobbyEvent) {
	switch e := event.(type) {
	case LobbyOpenedEvent:
		l.Info = &LobbyInfo{
			OwnerID:   e.OwnerID,
			ChannelID: e.ChannelID,
			Players:   []Snowflake{e.OwnerID},
			OpenedAt:  e.OpenedAt,
		}
	case LobbyClosedEvent:
		l.mustBeOpened(event)
		at := e.At
		l.Info.ClosedAt = &at
	case PlayerAddedToLobbyEvent:
		l.mustBeOpened(event)
		l.Info.Players = append(l.Info.Players, e.PlayerID)
	default:
		panic(fmt.Sprintf("lobby: corrupt event stream, cannot apply %T", event))
	}
}

func (l *Lobby) mustBeOpened(event LobbyEvent) {
	if l.Info == nil {
		panic(fmt.Sprintf("lobby: corrupt event stream, %s before %s", event.EventType(), LobbyOpenedType))
	}
}
