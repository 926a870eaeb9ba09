package domain

import (
	"context"
	"time"
)

// LobbyService performs the checks and side effects of opening a lobby that
// live outside the aggregate, such as whether the channel allows matchmaking.
type LobbyService interface {
	OpenLobby(ctx context.Context, ownerID, channelID Snowflake) error
}

// LobbyServices is handed to the aggregate while it handles a command.
type LobbyServices struct {
	Lobbies LobbyService
	Clock   func() time.Time
}

func (s LobbyServices) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock()
}
