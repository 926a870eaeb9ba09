package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/models"
	"github.com/tristan-zander/runback/utils"
)

// ConfigureChannelRequest is the body of a channel configuration request
type ConfigureChannelRequest struct {
	GuildID string `json:"guild_id" validate:"required,snowflake"`
	Name    string `json:"name" validate:"max=100"`
	Enabled *bool  `json:"enabled"`
}

// configureChannel creates or updates a matchmaking channel
func (s *Server) configureChannel(c *gin.Context) {
	channelID, err := domain.ParseSnowflake(c.Param("channel_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id must be a Discord id"})
		return
	}

	var req ConfigureChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ValidationMessage(err)})
		return
	}
	if !s.guildAllowed(c, req.GuildID) {
		return
	}

	guildID, _ := domain.ParseSnowflake(req.GuildID)
	adminID, _ := domain.ParseSnowflake(c.GetString(adminIDKey))
	channel := &models.MatchmakingChannel{
		ChannelID:    channelID,
		GuildID:      guildID,
		Name:         req.Name,
		Enabled:      req.Enabled == nil || *req.Enabled,
		ConfiguredBy: adminID,
	}
	if err := s.deps.Channels.Configure(c.Request.Context(), channel); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, channel)
}

// getChannel returns one matchmaking channel
func (s *Server) getChannel(c *gin.Context) {
	channelID, err := domain.ParseSnowflake(c.Param("channel_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id must be a Discord id"})
		return
	}

	channel, err := s.deps.Channels.Get(c.Request.Context(), channelID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.guildAllowed(c, channel.GuildID.String()) {
		return
	}

	c.JSON(http.StatusOK, channel)
}

// disableChannel stops matchmaking in a channel
func (s *Server) disableChannel(c *gin.Context) {
	channelID, err := domain.ParseSnowflake(c.Param("channel_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id must be a Discord id"})
		return
	}

	ctx := c.Request.Context()
	channel, err := s.deps.Channels.Get(ctx, channelID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.guildAllowed(c, channel.GuildID.String()) {
		return
	}

	if err := s.deps.Channels.Disable(ctx, channelID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "channel disabled"})
}

// listChannels lists a guild's matchmaking channels
func (s *Server) listChannels(c *gin.Context) {
	guildID, err := domain.ParseSnowflake(c.Param("guild_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guild_id must be a Discord id"})
		return
	}
	if !s.guildAllowed(c, guildID.String()) {
		return
	}

	channels, err := s.deps.Channels.List(c.Request.Context(), guildID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// guildAllowed answers 403 when the admin token is scoped to another guild
func (s *Server) guildAllowed(c *gin.Context, guildID string) bool {
	scope := c.GetString(guildIDKey)
	if scope == "" || scope == guildID {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "token is not valid for this guild"})
	return false
}
