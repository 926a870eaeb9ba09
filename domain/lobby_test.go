package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tristan-zander/runback/cqrs"
)

const (
	u1 Snowflake = 111111111111111111
	u2 Snowflake = 222222222222222222
	c1 Snowflake = 999999999999999999
)

var fixedNow = time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)

type MockLobbyService struct {
	mock.Mock
}

func (m *MockLobbyService) OpenLobby(ctx context.Context, ownerID, channelID Snowflake) error {
	args := m.Called(ctx, ownerID, channelID)
	return args.Error(0)
}

func testServices(svc LobbyService) LobbyServices {
	return LobbyServices{
		Lobbies: svc,
		Clock:   func() time.Time { return fixedNow },
	}
}

func handleAndApply(t *testing.T, lobby *Lobby, cmd LobbyCommand, services LobbyServices) []LobbyEvent {
	t.Helper()
	events, err := lobby.Handle(context.Background(), cmd, services)
	require.NoError(t, err)
	for _, e := range events {
		lobby.Apply(e)
	}
	return events
}

func TestLobby_Open(t *testing.T) {
	svc := new(MockLobbyService)
	svc.On("OpenLobby", mock.Anything, u1, c1).Return(nil)
	lobby := NewLobby()

	events := handleAndApply(t, lobby, OpenLobby{OwnerID: u1, ChannelID: c1}, testServices(svc))

	require.Len(t, events, 1)
	assert.Equal(t, LobbyOpenedEvent{OwnerID: u1, ChannelID: c1, OpenedAt: fixedNow}, events[0])
	require.NotNil(t, lobby.Info)
	assert.Equal(t, u1, lobby.Info.OwnerID)
	assert.Equal(t, c1, lobby.Info.ChannelID)
	assert.Equal(t, []Snowflake{u1}, lobby.Info.Players)
	assert.Nil(t, lobby.Info.ClosedAt)
	assert.True(t, lobby.IsOpen())
	svc.AssertExpectations(t)
}

func TestLobby_OpenRejectedByService(t *testing.T) {
	svc := new(MockLobbyService)
	rejection := cqrs.NewDomainError("Matchmaking is not enabled in this channel.")
	svc.On("OpenLobby", mock.Anything, u1, c1).Return(rejection)
	lobby := NewLobby()

	events, err := lobby.Handle(context.Background(), OpenLobby{OwnerID: u1, ChannelID: c1}, testServices(svc))

	assert.Nil(t, events)
	assert.Same(t, rejection, err)
	assert.Nil(t, lobby.Info)
}

func TestLobby_AddPlayerAndClose(t *testing.T) {
	svc := new(MockLobbyService)
	svc.On("OpenLobby", mock.Anything, u1, c1).Return(nil)
	services := testServices(svc)
	lobby := NewLobby()
	handleAndApply(t, lobby, OpenLobby{OwnerID: u1, ChannelID: c1}, services)

	events := handleAndApply(t, lobby, AddPlayerToLobby{PlayerID: u2}, services)
	assert.Equal(t, []LobbyEvent{PlayerAddedToLobbyEvent{PlayerID: u2}}, events)
	assert.Equal(t, []Snowflake{u1, u2}, lobby.Info.Players)

	events = handleAndApply(t, lobby, CloseLobby{}, services)
	assert.Equal(t, []LobbyEvent{LobbyClosedEvent{At: fixedNow}}, events)
	require.NotNil(t, lobby.Info.ClosedAt)
	assert.Equal(t, fixedNow, *lobby.Info.ClosedAt)
	assert.Equal(t, []Snowflake{u1, u2}, lobby.Info.Players)
	assert.False(t, lobby.IsOpen())
}

func TestLobby_LifecycleRules(t *testing.T) {
	svc := new(MockLobbyService)
	svc.On("OpenLobby", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	services := testServices(svc)
	ctx := context.Background()

	opened := NewLobby()
	opened.Apply(LobbyOpenedEvent{OwnerID: u1, ChannelID: c1, OpenedAt: fixedNow})

	closed := NewLobby()
	closed.Apply(LobbyOpenedEvent{OwnerID: u1, ChannelID: c1, OpenedAt: fixedNow})
	closed.Apply(LobbyClosedEvent{At: fixedNow})

	tests := []struct {
		name    string
		lobby   *Lobby
		cmd     LobbyCommand
		message string
	}{
		{"close unopened", NewLobby(), CloseLobby{}, "This lobby has not been opened."},
		{"add to unopened", NewLobby(), AddPlayerToLobby{PlayerID: u2}, "This lobby has not been opened."},
		{"open twice", opened, OpenLobby{OwnerID: u2, ChannelID: c1}, "This lobby has already been opened."},
		{"open without owner", NewLobby(), OpenLobby{ChannelID: c1}, "A lobby needs an owner and a channel."},
		{"add duplicate", opened, AddPlayerToLobby{PlayerID: u1}, "<@111111111111111111> is already in this lobby."},
		{"add zero player", opened, AddPlayerToLobby{}, "A player id is required."},
		{"close closed", closed, CloseLobby{}, "This lobby is already closed."},
		{"add to closed", closed, AddPlayerToLobby{PlayerID: u2}, "This lobby is already closed."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := tt.lobby.Handle(ctx, tt.cmd, services)
			assert.Nil(t, events)
			require.Error(t, err)
			assert.True(t, cqrs.IsDomainError(err))
			assert.Equal(t, tt.message, err.Error())
		})
	}
	svc.AssertNotCalled(t, "OpenLobby", mock.Anything, u2, c1)
}

func TestLobby_UnknownCommandIsAnError(t *testing.T) {
	_, err := NewLobby().Handle(context.Background(), nil, testServices(nil))
	require.Error(t, err)
	assert.False(t, cqrs.IsDomainError(err))
}

func TestLobby_ApplyPanicsOnCorruptStream(t *testing.T) {
	assert.Panics(t, func() {
		NewLobby().Apply(PlayerAddedToLobbyEvent{PlayerID: u2})
	})
	assert.Panics(t, func() {
		NewLobby().Apply(nil)
	})
}

func TestLobby_ReplayIsDeterministic(t *testing.T) {
	stream := []LobbyEvent{
		LobbyOpenedEvent{OwnerID: u1, ChannelID: c1, OpenedAt: fixedNow},
		PlayerAddedToLobbyEvent{PlayerID: u2},
		PlayerAddedToLobbyEvent{PlayerID: 333},
		LobbyClosedEvent{At: fixedNow.Add(time.Hour)},
	}

	replay := func() *Lobby {
		l := NewLobby()
		for _, e := range stream {
			l.Apply(e)
		}
		return l
	}

	assert.Equal(t, replay(), replay())
}

func TestLobby_ServiceErrorIsNotDomainError(t *testing.T) {
	svc := new(MockLobbyService)
	svc.On("OpenLobby", mock.Anything, u1, c1).Return(errors.New("connection reset"))

	_, err := NewLobby().Handle(context.Background(), OpenLobby{OwnerID: u1, ChannelID: c1}, testServices(svc))
	require.Error(t, err)
	assert.False(t, cqrs.IsDomainError(err))
}
