package projections

import (
	"context"
	"time"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/models"
)

// Lobby status values
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// LobbyView is the read model of one lobby
type LobbyView struct {
	LobbyID   string             `json:"lobby_id"`
	OwnerID   domain.Snowflake   `json:"owner_id"`
	ChannelID domain.Snowflake   `json:"channel_id"`
	Players   []domain.Snowflake `json:"players"`
	OpenedAt  *time.Time         `json:"opened_at,omitempty"`
	ClosedAt  *time.Time         `json:"closed_at,omitempty"`
}

// NewLobbyView returns the view of a lobby no event has touched yet
func NewLobbyView() *LobbyView {
	return &LobbyView{Players: []domain.Snowflake{}}
}

// Update folds one committed event into the view
func (v *LobbyView) Update(env domain.LobbyEnvelope) {
	v.LobbyID = env.AggregateID

	switch e := env.Event.(type) {
	case domain.LobbyOpenedEvent:
		openedAt := e.OpenedAt
		v.OwnerID = e.OwnerID
		v.ChannelID = e.ChannelID
		v.OpenedAt = &openedAt
		v.Players = []domain.Snowflake{e.OwnerID}
	case domain.PlayerAddedToLobbyEvent:
		v.Players = append(v.Players, e.PlayerID)
	case domain.LobbyClosedEvent:
		closedAt := e.At
		v.ClosedAt = &closedAt
	}
}

// Status returns "open" or "closed"
func (v *LobbyView) Status() string {
	if v.ClosedAt != nil {
		return StatusClosed
	}
	return StatusOpen
}

func (v *LobbyView) toModel(version int) models.LobbyView {
	return models.LobbyView{
		LobbyID:   v.LobbyID,
		OwnerID:   v.OwnerID,
		ChannelID: v.ChannelID,
		Players:   v.Players,
		OpenedAt:  v.OpenedAt,
		ClosedAt:  v.ClosedAt,
		Version:   version,
	}
}

func lobbyViewFromModel(row models.LobbyView) *LobbyView {
	players := row.Players
	if players == nil {
		players = []domain.Snowflake{}
	}
	return &LobbyView{
		LobbyID:   row.LobbyID,
		OwnerID:   row.OwnerID,
		ChannelID: row.ChannelID,
		Players:   players,
		OpenedAt:  row.OpenedAt,
		ClosedAt:  row.ClosedAt,
	}
}

// LobbyViewQuery projects lobby streams into LobbyView rows
type LobbyViewQuery = cqrs.GenericQuery[*LobbyView, domain.LobbyEvent]

// Query names
const (
	LobbyViewQueryName   = "lobby_view"
	LobbyCacheQueryName  = "lobby_view_cache"
	LobbySearchQueryName = "lobby_view_search"
)

// NewLobbyViewQuery creates a query writing lobby views through repo
func NewLobbyViewQuery(name string, repo cqrs.ViewRepository[*LobbyView]) *LobbyViewQuery {
	return cqrs.NewGenericQuery[*LobbyView, domain.LobbyEvent](name, repo, NewLobbyView)
}

// LobbyStreamLoader lets lobby view queries read the events they missed
func LobbyStreamLoader(store cqrs.EventStore[domain.LobbyEvent]) cqrs.StreamLoader[domain.LobbyEvent] {
	return func(ctx context.Context, aggregateID string, afterSequence int) ([]domain.LobbyEnvelope, error) {
		return store.LoadSince(ctx, domain.LobbyAggregateType, aggregateID, afterSequence)
	}
}
