package matchmaking

import (
	"context"
	"errors"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/models"
)

// OpenLobbyFinder reports whether a user already owns an open lobby
type OpenLobbyFinder interface {
	HasOpenLobby(ctx context.Context, ownerID domain.Snowflake) (bool, error)
}

// ChannelFinder looks up matchmaking channel configuration
type ChannelFinder interface {
	Get(ctx context.Context, channelID domain.Snowflake) (*models.MatchmakingChannel, error)
}

// LobbyService decides whether a user may open a lobby in a channel
type LobbyService struct {
	channels ChannelFinder
	lobbies  OpenLobbyFinder
}

var _ domain.LobbyService = (*LobbyService)(nil)

// NewLobbyService creates a new lobby service
func NewLobbyService(channels ChannelFinder, lobbies OpenLobbyFinder) *LobbyService {
	return &LobbyService{channels: channels, lobbies: lobbies}
}

// OpenLobby rejects channels that are not enabled for matchmaking and owners
// who already have an open lobby.
func (s *LobbyService) OpenLobby(ctx context.Context, ownerID, channelID domain.Snowflake) error {
	channel, err := s.channels.Get(ctx, channelID)
	if errors.Is(err, ErrChannelNotFound) {
		return cqrs.NewDomainError("<#%s> is not a matchmaking channel.", channelID)
	}
	if err != nil {
		return err
	}
	if !channel.Enabled {
		return cqrs.NewDomainError("Matchmaking is disabled in <#%s>.", channelID)
	}

	open, err := s.lobbies.HasOpenLobby(ctx, ownerID)
	if err != nil {
		return err
	}
	if open {
		return cqrs.NewDomainError("<@%s> already has an open lobby.", ownerID)
	}
	return nil
}
