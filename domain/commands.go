package domain

// LobbyCommand is the closed set of commands a lobby accepts.
type LobbyCommand interface {
	isLobbyCommand()
}

// OpenLobby opens a lobby owned by OwnerID in a matchmaking channel.
type OpenLobby struct {
	OwnerID   Snowflake
	ChannelID Snowflake
}

// CloseLobby closes an open lobby.
type CloseLobby struct{}

// AddPlayerToLobby adds a player to an open lobby.
type AddPlayerToLobby struct {
	PlayerID Snowflake
}

func (OpenLobby) isLobbyCommand()        {}
func (CloseLobby) isLobbyCommand()       {}
func (AddPlayerToLobby) isLobbyCommand() {}
