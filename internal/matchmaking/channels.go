package matchmaking

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/internal/cache"
	"github.com/tristan-zander/runback/internal/database"
	"github.com/tristan-zander/runback/models"
)

// ErrChannelNotFound is returned when a channel was never configured
var ErrChannelNotFound = errors.New("matchmaking channel not found")

// ChannelRepository provides access to matchmaking channel configuration
type ChannelRepository struct {
	db    *gorm.DB
	cache *cache.RedisCache
}

// NewChannelRepository creates a new repository; a nil or disabled cache reads through to the database
func NewChannelRepository(db *gorm.DB, cache *cache.RedisCache) *ChannelRepository {
	return &ChannelRepository{db: db, cache: cache}
}

func channelKey(id domain.Snowflake) string {
	return "channel:" + id.String()
}

// Configure creates or replaces a channel's configuration
func (r *ChannelRepository) Configure(ctx context.Context, channel *models.MatchmakingChannel) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"guild_id", "name", "enabled", "configured_by", "updated_at"}),
	}).Create(channel).Error
	if err != nil {
		return database.Classify("configure matchmaking channel", err)
	}

	r.invalidate(ctx, channel.ChannelID)
	log.Info().
		Str("channelID", channel.ChannelID.String()).
		Str("guildID", channel.GuildID.String()).
		Bool("enabled", channel.Enabled).
		Msg("Matchmaking channel configured")
	return nil
}

// Get finds a channel, consulting the cache first
func (r *ChannelRepository) Get(ctx context.Context, channelID domain.Snowflake) (*models.MatchmakingChannel, error) {
	var channel models.MatchmakingChannel
	if err := r.cache.Get(ctx, channelKey(channelID), &channel); err == nil {
		return &channel, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		log.Warn().Err(err).Str("channelID", channelID.String()).Msg("Failed to read channel from cache")
	}

	err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&channel).Error
	if database.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	if err != nil {
		return nil, database.Classify("get matchmaking channel", err)
	}

	if err := r.cache.Set(ctx, channelKey(channelID), &channel); err != nil {
		log.Warn().Err(err).Str("channelID", channelID.String()).Msg("Failed to cache channel")
	}
	return &channel, nil
}

// List returns a guild's channels
func (r *ChannelRepository) List(ctx context.Context, guildID domain.Snowflake) ([]models.MatchmakingChannel, error) {
	var channels []models.MatchmakingChannel
	err := r.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("channel_id").
		Find(&channels).Error
	if err != nil {
		return nil, database.Classify("list matchmaking channels", err)
	}
	return channels, nil
}

// Disable stops new lobbies from being opened in a channel
func (r *ChannelRepository) Disable(ctx context.Context, channelID domain.Snowflake) error {
	res := r.db.WithContext(ctx).Model(&models.MatchmakingChannel{}).
		Where("channel_id = ?", channelID).
		Update("enabled", false)
	if res.Error != nil {
		return database.Classify("disable matchmaking channel", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}

	r.invalidate(ctx, channelID)
	log.Info().Str("channelID", channelID.String()).Msg("Matchmaking channel disabled")
	return nil
}

func (r *ChannelRepository) invalidate(ctx context.Context, channelID domain.Snowflake) {
	if err := r.cache.Delete(ctx, channelKey(channelID)); err != nil {
		log.Warn().Err(err).Str("channelID", channelID.String()).Msg("Failed to invalidate cached channel")
	}
}
