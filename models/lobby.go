package models

import (
	"time"

	"github.com/tristan-zander/runback/domain"
)

// LobbyView is the materialized row of a lobby
type LobbyView struct {
	LobbyID   string             `gorm:"primaryKey;size:64" json:"lobby_id"`
	OwnerID   domain.Snowflake   `gorm:"index" json:"owner_id"`
	ChannelID domain.Snowflake   `gorm:"index" json:"channel_id"`
	Players   []domain.Snowflake `gorm:"type:text;serializer:json" json:"players"`
	OpenedAt  *time.Time         `json:"opened_at"`
	ClosedAt  *time.Time         `gorm:"index" json:"closed_at"`
	Version   int                `gorm:"not null" json:"version"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// MatchmakingChannel is a guild channel where lobbies may be opened
type MatchmakingChannel struct {
	ChannelID    domain.Snowflake `gorm:"primaryKey;autoIncrement:false" json:"channel_id"`
	GuildID      domain.Snowflake `gorm:"index;not null" json:"guild_id"`
	Name         string           `gorm:"size:100" json:"name"`
	Enabled      bool             `gorm:"not null" json:"enabled"`
	ConfiguredBy domain.Snowflake `json:"configured_by"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
