package matchmaking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/internal/database/dbtest"
	"github.com/tristan-zander/runback/models"
	"github.com/tristan-zander/runback/projections"
)

type MockOpenLobbyFinder struct {
	mock.Mock
}

func (m *MockOpenLobbyFinder) HasOpenLobby(ctx context.Context, ownerID domain.Snowflake) (bool, error) {
	args := m.Called(ctx, ownerID)
	return args.Bool(0), args.Error(1)
}

type MockChannelFinder struct {
	mock.Mock
}

func (m *MockChannelFinder) Get(ctx context.Context, channelID domain.Snowflake) (*models.MatchmakingChannel, error) {
	args := m.Called(ctx, channelID)
	channel, _ := args.Get(0).(*models.MatchmakingChannel)
	return channel, args.Error(1)
}

const ownerID domain.Snowflake = 53908232506183680

func TestLobbyService_OpenLobby(t *testing.T) {
	backendDown := &cqrs.PersistenceError{Kind: cqrs.KindConnection, Op: "get", Err: errors.New("dial tcp: refused")}

	tests := []struct {
		name        string
		channel     *models.MatchmakingChannel
		channelErr  error
		hasOpen     bool
		openErr     error
		wantDomain  string
		wantErr     error
		checksOwner bool
	}{
		{
			name:        "enabled channel and free owner",
			channel:     &models.MatchmakingChannel{ChannelID: channelID, Enabled: true},
			checksOwner: true,
		},
		{
			name:       "unknown channel",
			channelErr: ErrChannelNotFound,
			wantDomain: "<#381870553235193857> is not a matchmaking channel.",
		},
		{
			name:       "disabled channel",
			channel:    &models.MatchmakingChannel{ChannelID: channelID},
			wantDomain: "Matchmaking is disabled in <#381870553235193857>.",
		},
		{
			name:        "owner already has a lobby",
			channel:     &models.MatchmakingChannel{ChannelID: channelID, Enabled: true},
			hasOpen:     true,
			checksOwner: true,
			wantDomain:  "<@53908232506183680> already has an open lobby.",
		},
		{
			name:       "channel lookup fails",
			channelErr: backendDown,
			wantErr:    backendDown,
		},
		{
			name:        "lobby lookup fails",
			channel:     &models.MatchmakingChannel{ChannelID: channelID, Enabled: true},
			openErr:     backendDown,
			checksOwner: true,
			wantErr:     backendDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			channels := new(MockChannelFinder)
			lobbies := new(MockOpenLobbyFinder)
			channels.On("Get", mock.Anything, channelID).Return(tt.channel, tt.channelErr)
			if tt.checksOwner {
				lobbies.On("HasOpenLobby", mock.Anything, ownerID).Return(tt.hasOpen, tt.openErr)
			}

			err := NewLobbyService(channels, lobbies).OpenLobby(context.Background(), ownerID, channelID)

			switch {
			case tt.wantDomain != "":
				var domainErr *cqrs.DomainError
				require.ErrorAs(t, err, &domainErr)
				assert.Equal(t, tt.wantDomain, domainErr.Message)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, cqrs.IsDomainError(err))
			default:
				assert.NoError(t, err)
			}
			channels.AssertExpectations(t)
			lobbies.AssertExpectations(t)
		})
	}
}

func TestLobbyService_WithFramework(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	channels := NewChannelRepository(db, nil)
	views := projections.NewGormLobbyViewRepository(db)
	require.NoError(t, channels.Configure(ctx, &models.MatchmakingChannel{ChannelID: channelID, GuildID: guildID, Enabled: true}))

	store := cqrs.NewMemoryEventStore[domain.LobbyEvent]()
	fw := domain.NewLobbyFramework(store, domain.LobbyServices{Lobbies: NewLobbyService(channels, views)}).
		WithQueries(projections.NewLobbyViewQuery(projections.LobbyViewQueryName, views))

	require.NoError(t, fw.Execute(ctx, "lobby-1", domain.OpenLobby{OwnerID: ownerID, ChannelID: channelID}))

	err := fw.Execute(ctx, "lobby-2", domain.OpenLobby{OwnerID: ownerID, ChannelID: channelID})
	assert.True(t, cqrs.IsDomainError(err))

	require.NoError(t, fw.Execute(ctx, "lobby-1", domain.CloseLobby{}))
	require.NoError(t, fw.Execute(ctx, "lobby-2", domain.OpenLobby{OwnerID: ownerID, ChannelID: channelID}))

	events, err := store.Load(ctx, domain.LobbyAggregateType, "lobby-2")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
