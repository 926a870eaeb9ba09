package projections

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/internal/database/dbtest"
)

func openView(lobbyID string, owner, channel domain.Snowflake, at time.Time) *LobbyView {
	view := NewLobbyView()
	view.Update(domain.LobbyEnvelope{
		AggregateID: lobbyID,
		Sequence:    1,
		Event:       domain.LobbyOpenedEvent{OwnerID: owner, ChannelID: channel, OpenedAt: at},
	})
	return view
}

func TestGormLobbyViewRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewGormLobbyViewRepository(dbtest.Open(t))

	view, vc, err := repo.Load(ctx, "lobby-1")
	require.NoError(t, err)
	assert.Nil(t, view)
	assert.Nil(t, vc)

	created := openView("lobby-1", 1, 10, openedAt)
	require.NoError(t, repo.Create(ctx, created, cqrs.ViewContext{ViewInstanceID: "lobby-1", Version: 1}))

	loaded, vc, err := repo.Load(ctx, "lobby-1")
	require.NoError(t, err)
	require.NotNil(t, vc)
	assert.Equal(t, 1, vc.Version)
	assert.Equal(t, created.Players, loaded.Players)
	assert.Equal(t, created.OwnerID, loaded.OwnerID)
	assert.Nil(t, loaded.ClosedAt)

	loaded.Players = append(loaded.Players, 2)
	closedAt := openedAt.Add(time.Minute)
	loaded.ClosedAt = &closedAt
	require.NoError(t, repo.Update(ctx, loaded, cqrs.ViewContext{ViewInstanceID: "lobby-1", Version: 3, PreviousVersion: 1}))

	updated, vc, err := repo.Load(ctx, "lobby-1")
	require.NoError(t, err)
	assert.Equal(t, 3, vc.Version)
	assert.Equal(t, []domain.Snowflake{1, 2}, updated.Players)
	require.NotNil(t, updated.ClosedAt)
	assert.True(t, closedAt.Equal(*updated.ClosedAt))
}

func TestGormLobbyViewRepository_Errors(t *testing.T) {
	ctx := context.Background()
	repo := NewGormLobbyViewRepository(dbtest.Open(t))
	view := openView("lobby-1", 1, 10, openedAt)

	err := repo.Update(ctx, view, cqrs.ViewContext{ViewInstanceID: "lobby-1", Version: 2, PreviousVersion: 1})
	assert.ErrorIs(t, err, cqrs.ErrViewNotFound)

	require.NoError(t, repo.Create(ctx, view, cqrs.ViewContext{ViewInstanceID: "lobby-1", Version: 1}))
	err = repo.Create(ctx, view, cqrs.ViewContext{ViewInstanceID: "lobby-1", Version: 1})
	assert.ErrorIs(t, err, cqrs.ErrViewAlreadyExists)

	err = repo.Update(ctx, view, cqrs.ViewContext{ViewInstanceID: "lobby-1", Version: 3, PreviousVersion: 2})
	assert.ErrorIs(t, err, cqrs.ErrViewVersionConflict)

	version, err := NewLobbyViewQuery(LobbyViewQueryName, repo).ViewVersion(ctx, "lobby-1")
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	version, err = NewLobbyViewQuery(LobbyViewQueryName, repo).ViewVersion(ctx, "lobby-2")
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestGormLobbyViewRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewGormLobbyViewRepository(dbtest.Open(t))

	first := openView("lobby-1", 1, 10, openedAt)
	second := openView("lobby-2", 2, 10, openedAt.Add(time.Minute))
	second.Players = append(second.Players, 5)
	third := openView("lobby-3", 3, 20, openedAt.Add(2*time.Minute))
	closedAt := openedAt.Add(time.Hour)
	third.ClosedAt = &closedAt

	for _, v := range []*LobbyView{first, second, third} {
		require.NoError(t, repo.Create(ctx, v, cqrs.ViewContext{ViewInstanceID: v.LobbyID, Version: 1}))
	}

	all, err := repo.List(ctx, LobbyFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "lobby-3", all[0].LobbyID)

	inChannel, err := repo.List(ctx, LobbyFilter{ChannelID: 10})
	require.NoError(t, err)
	assert.Len(t, inChannel, 2)

	open, err := repo.List(ctx, LobbyFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	withPlayer, err := repo.List(ctx, LobbyFilter{PlayerID: 5})
	require.NoError(t, err)
	require.Len(t, withPlayer, 1)
	assert.Equal(t, "lobby-2", withPlayer[0].LobbyID)

	notListed, err := repo.List(ctx, LobbyFilter{PlayerID: 15})
	require.NoError(t, err)
	assert.Empty(t, notListed)

	hasOpen, err := repo.HasOpenLobby(ctx, 1)
	require.NoError(t, err)
	assert.True(t, hasOpen)
	hasOpen, err = repo.HasOpenLobby(ctx, 3)
	require.NoError(t, err)
	assert.False(t, hasOpen)
}

func TestGormLobbyViewRepository_ListFiltersPlayerBeforeLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewGormLobbyViewRepository(dbtest.Open(t))

	older := openView("lobby-old", 1, 10, openedAt)
	older.Players = append(older.Players, 7)
	require.NoError(t, repo.Create(ctx, older, cqrs.ViewContext{ViewInstanceID: older.LobbyID, Version: 2}))
	for i, id := range []string{"lobby-a", "lobby-b", "lobby-c"} {
		v := openView(id, domain.Snowflake(20+i), 10, openedAt.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, repo.Create(ctx, v, cqrs.ViewContext{ViewInstanceID: id, Version: 1}))
	}

	found, err := repo.List(ctx, LobbyFilter{PlayerID: 7, Limit: 1})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "lobby-old", found[0].LobbyID)
}
