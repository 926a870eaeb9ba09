package projections

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/internal/database"
	"github.com/tristan-zander/runback/models"
)

// LobbyFilter narrows lobby listings
type LobbyFilter struct {
	ChannelID domain.Snowflake
	OwnerID   domain.Snowflake
	PlayerID  domain.Snowflake
	OpenOnly  bool
	Limit     int
}

// GormLobbyViewRepository stores lobby views in the lobby_views table
type GormLobbyViewRepository struct {
	db *gorm.DB
}

var _ cqrs.ViewRepository[*LobbyView] = (*GormLobbyViewRepository)(nil)

// NewGormLobbyViewRepository creates a new lobby view repository
func NewGormLobbyViewRepository(db *gorm.DB) *GormLobbyViewRepository {
	return &GormLobbyViewRepository{db: db}
}

// Load finds a lobby view by id
func (r *GormLobbyViewRepository) Load(ctx context.Context, viewID string) (*LobbyView, *cqrs.ViewContext, error) {
	var row models.LobbyView
	err := r.db.WithContext(ctx).Where("lobby_id = ?", viewID).First(&row).Error
	if database.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, database.Classify("load lobby view", err)
	}

	return lobbyViewFromModel(row), &cqrs.ViewContext{
		ViewInstanceID:  viewID,
		Version:         row.Version,
		PreviousVersion: row.Version,
	}, nil
}

// Create inserts a new lobby view
func (r *GormLobbyViewRepository) Create(ctx context.Context, view *LobbyView, vc cqrs.ViewContext) error {
	row := view.toModel(vc.Version)
	row.LobbyID = vc.ViewInstanceID

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: lobby %s", cqrs.ErrViewAlreadyExists, vc.ViewInstanceID)
		}
		return database.Classify("create lobby view", err)
	}
	return nil
}

// Update replaces a lobby view stored at vc.PreviousVersion
func (r *GormLobbyViewRepository) Update(ctx context.Context, view *LobbyView, vc cqrs.ViewContext) error {
	row := view.toModel(vc.Version)

	res := r.db.WithContext(ctx).Model(&models.LobbyView{}).
		Where("lobby_id = ? AND version = ?", vc.ViewInstanceID, vc.PreviousVersion).
		Select("owner_id", "channel_id", "players", "opened_at", "closed_at", "version", "updated_at").
		Updates(&row)
	if res.Error != nil {
		return database.Classify("update lobby view", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.LobbyView{}).
		Where("lobby_id = ?", vc.ViewInstanceID).
		Count(&count).Error; err != nil {
		return database.Classify("update lobby view", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: lobby %s", cqrs.ErrViewNotFound, vc.ViewInstanceID)
	}
	return fmt.Errorf("%w: lobby %s is not at version %d", cqrs.ErrViewVersionConflict, vc.ViewInstanceID, vc.PreviousVersion)
}

// List returns lobby views matching the filter, newest first
func (r *GormLobbyViewRepository) List(ctx context.Context, filter LobbyFilter) ([]*LobbyView, error) {
	query := r.db.WithContext(ctx).Model(&models.LobbyView{})
	if filter.ChannelID != 0 {
		query = query.Where("channel_id = ?", filter.ChannelID)
	}
	if filter.OwnerID != 0 {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.PlayerID != 0 {
		// players holds a JSON array of quoted ids, so the quotes bound the match.
		query = query.Where("players LIKE ?", fmt.Sprintf("%%%q%%", filter.PlayerID.String()))
	}
	if filter.OpenOnly {
		query = query.Where("closed_at IS NULL")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var rows []models.LobbyView
	if err := query.Order("opened_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, database.Classify("list lobby views", err)
	}

	views := make([]*LobbyView, 0, len(rows))
	for _, row := range rows {
		views = append(views, lobbyViewFromModel(row))
	}
	return views, nil
}

// HasOpenLobby reports whether the owner has a lobby that is not closed
func (r *GormLobbyViewRepository) HasOpenLobby(ctx context.Context, ownerID domain.Snowflake) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.LobbyView{}).
		Where("owner_id = ? AND closed_at IS NULL", ownerID).
		Count(&count).Error; err != nil {
		return false, database.Classify("count open lobbies", err)
	}
	return count > 0, nil
}
