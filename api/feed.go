package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tristan-zander/runback/utils"
)

const feedWriteTimeout = 5 * time.Second

// lobbyFeed streams a lobby's events over a websocket as they are dispatched
func (s *Server) lobbyFeed(c *gin.Context) {
	if s.deps.Feed == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "live feed is not enabled"})
		return
	}
	lobbyID := c.Param("id")
	if !utils.IsValidUUID(lobbyID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a lobby id"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Server.CorsOrigins,
	})
	if err != nil {
		log.Warn().Err(err).Str("lobbyID", lobbyID).Msg("Failed to accept websocket")
		return
	}
	defer conn.CloseNow()

	messages, cancel := s.deps.Feed.Subscribe(lobbyID)
	defer cancel()

	log.Info().Str("lobbyID", lobbyID).Msg("Feed subscriber connected")

	// The feed is one-way; CloseRead handles pings and notices the client leaving
	ctx := conn.CloseRead(c.Request.Context())

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("lobbyID", lobbyID).Msg("Feed subscriber disconnected")
			return
		case msg, ok := <-messages:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, feedWriteTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancelWrite()
			if err != nil {
				log.Warn().Err(err).Str("lobbyID", lobbyID).Msg("Failed to write feed message")
				return
			}
		}
	}
}
