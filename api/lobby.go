package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/handlers"
	"github.com/tristan-zander/runback/projections"
	"github.com/tristan-zander/runback/utils"
)

// LobbyResponse is the response for a lobby view
type LobbyResponse struct {
	LobbyID   string             `json:"lobby_id"`
	OwnerID   domain.Snowflake   `json:"owner_id"`
	ChannelID domain.Snowflake   `json:"channel_id"`
	Players   []domain.Snowflake `json:"players"`
	Status    string             `json:"status"`
	OpenedAt  *time.Time         `json:"opened_at,omitempty"`
	ClosedAt  *time.Time         `json:"closed_at,omitempty"`
	Version   int                `json:"version,omitempty"`
}

func lobbyResponse(view *projections.LobbyView, version int) LobbyResponse {
	return LobbyResponse{
		LobbyID:   view.LobbyID,
		OwnerID:   view.OwnerID,
		ChannelID: view.ChannelID,
		Players:   view.Players,
		Status:    view.Status(),
		OpenedAt:  view.OpenedAt,
		ClosedAt:  view.ClosedAt,
		Version:   version,
	}
}

// EventResponse is one entry of a lobby's event stream
type EventResponse struct {
	EventID      string            `json:"event_id"`
	Sequence     int               `json:"sequence"`
	EventType    string            `json:"event_type"`
	EventVersion string            `json:"event_version"`
	RecordedAt   time.Time         `json:"recorded_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Data         domain.LobbyEvent `json:"data"`
}

// CommandRequest carries the optional acting user of a lobby command
type CommandRequest struct {
	RequestedBy string `json:"requested_by"`
}

// AddPlayerRequest is the body of an add player request
type AddPlayerRequest struct {
	PlayerID    string `json:"player_id"`
	RequestedBy string `json:"requested_by"`
}

// openLobby opens a new lobby
func (s *Server) openLobby(c *gin.Context) {
	var cmd handlers.OpenLobbyCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lobbyID, err := s.deps.Lobbies.HandleOpenLobby(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"lobby_id": lobbyID})
}

// closeLobby closes a lobby
func (s *Server) closeLobby(c *gin.Context) {
	var req CommandRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	cmd := handlers.CloseLobbyCommand{LobbyID: c.Param("id"), RequestedBy: req.RequestedBy}
	if err := s.deps.Lobbies.HandleCloseLobby(c.Request.Context(), cmd); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "lobby closed"})
}

// addPlayer adds a player to a lobby
func (s *Server) addPlayer(c *gin.Context) {
	var req AddPlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := handlers.AddPlayerCommand{LobbyID: c.Param("id"), PlayerID: req.PlayerID, RequestedBy: req.RequestedBy}
	if err := s.deps.Lobbies.HandleAddPlayer(c.Request.Context(), cmd); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "player added"})
}

// getLobby returns a lobby view, from the cache when it has one
func (s *Server) getLobby(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if s.deps.Cache != nil {
		view, vc, err := s.deps.Cache.Load(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("lobbyID", id).Msg("Failed to read lobby from cache")
		} else if vc != nil {
			c.JSON(http.StatusOK, lobbyResponse(view, vc.Version))
			return
		}
	}

	view, vc, err := s.deps.Views.Load(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if vc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "lobby not found"})
		return
	}

	c.JSON(http.StatusOK, lobbyResponse(view, vc.Version))
}

// listLobbies lists lobby views by channel, owner or player
func (s *Server) listLobbies(c *gin.Context) {
	var filter projections.LobbyFilter
	var ok bool
	if filter.ChannelID, ok = snowflakeQuery(c, "channel_id"); !ok {
		return
	}
	if filter.OwnerID, ok = snowflakeQuery(c, "owner_id"); !ok {
		return
	}
	if filter.PlayerID, ok = snowflakeQuery(c, "player_id"); !ok {
		return
	}
	filter.OpenOnly = c.Query("status") == projections.StatusOpen
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))

	views, err := s.deps.Views.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	lobbies := make([]LobbyResponse, 0, len(views))
	for _, v := range views {
		lobbies = append(lobbies, lobbyResponse(v, 0))
	}
	c.JSON(http.StatusOK, gin.H{"lobbies": lobbies})
}

// searchLobbies queries the search index
func (s *Server) searchLobbies(c *gin.Context) {
	if s.deps.Search == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "search is not configured"})
		return
	}

	search := projections.LobbySearch{
		ChannelID: c.Query("channel_id"),
		PlayerID:  c.Query("player_id"),
		Status:    c.Query("status"),
	}
	search.Size, _ = strconv.Atoi(c.Query("size"))

	views, err := s.deps.Search.Search(c.Request.Context(), search)
	if err != nil {
		respondError(c, err)
		return
	}

	lobbies := make([]LobbyResponse, 0, len(views))
	for _, v := range views {
		lobbies = append(lobbies, lobbyResponse(v, 0))
	}
	c.JSON(http.StatusOK, gin.H{"lobbies": lobbies})
}

// getLobbyEvents returns a lobby's event stream
func (s *Server) getLobbyEvents(c *gin.Context) {
	id := c.Param("id")
	if !utils.IsValidUUID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a lobby id"})
		return
	}

	after, _ := strconv.Atoi(c.Query("after"))
	envelopes, err := s.deps.Events.LoadSince(c.Request.Context(), domain.LobbyAggregateType, id, after)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(envelopes) == 0 && after == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "lobby not found"})
		return
	}

	events := make([]EventResponse, 0, len(envelopes))
	for _, env := range envelopes {
		events = append(events, eventResponse(env))
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func eventResponse(env cqrs.EventEnvelope[domain.LobbyEvent]) EventResponse {
	return EventResponse{
		EventID:      env.EventID,
		Sequence:     env.Sequence,
		EventType:    env.Event.EventType(),
		EventVersion: env.Event.EventVersion(),
		RecordedAt:   env.RecordedAt,
		Metadata:     env.Metadata,
		Data:         env.Event,
	}
}

// snowflakeQuery reads an optional id query parameter, answering 400 when it
// is malformed.
func snowflakeQuery(c *gin.Context, name string) (domain.Snowflake, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	id, err := domain.ParseSnowflake(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a Discord id"})
		return 0, false
	}
	return id, true
}
