package projections

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/eventstore"
	"github.com/tristan-zander/runback/internal/database/dbtest"
)

func TestRebuilder_RepairsDriftedViews(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	store := eventstore.NewLobbyEventStore(db)
	views := NewGormLobbyViewRepository(db)
	query := NewLobbyViewQuery(LobbyViewQueryName, views)

	// Views are only written by the rebuilder, so every lobby starts drifted.
	fw := domain.NewLobbyFramework(store, domain.LobbyServices{}).WithDispatchMode(cqrs.DispatchAsync)
	require.NoError(t, fw.Execute(ctx, "lobby-1", domain.OpenLobby{OwnerID: 1, ChannelID: 10}))
	require.NoError(t, fw.Execute(ctx, "lobby-1", domain.AddPlayerToLobby{PlayerID: 2}))
	require.NoError(t, fw.Execute(ctx, "lobby-2", domain.OpenLobby{OwnerID: 3, ChannelID: 10}))

	rebuilder := NewRebuilder(store, query)

	drifts, err := rebuilder.FindDrift(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Drift{
		{Query: LobbyViewQueryName, LobbyID: "lobby-1", StreamVersion: 2, ViewVersion: 0},
		{Query: LobbyViewQueryName, LobbyID: "lobby-2", StreamVersion: 1, ViewVersion: 0},
	}, drifts)

	repaired, err := rebuilder.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)

	drifts, err = rebuilder.FindDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	view, vc, err := views.Load(ctx, "lobby-1")
	require.NoError(t, err)
	assert.Equal(t, 2, vc.Version)
	assert.Equal(t, []domain.Snowflake{1, 2}, view.Players)
}

func TestRebuilder_RebuildOverwritesCorruptView(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	store := eventstore.NewLobbyEventStore(db)
	views := NewGormLobbyViewRepository(db)
	query := NewLobbyViewQuery(LobbyViewQueryName, views)

	fw := domain.NewLobbyFramework(store, domain.LobbyServices{}).WithQueries(query)
	require.NoError(t, fw.Execute(ctx, "lobby-1", domain.OpenLobby{OwnerID: 1, ChannelID: 10}))
	require.NoError(t, fw.Execute(ctx, "lobby-1", domain.AddPlayerToLobby{PlayerID: 2}))

	corrupt, vc, err := views.Load(ctx, "lobby-1")
	require.NoError(t, err)
	corrupt.Players = []domain.Snowflake{99}
	require.NoError(t, views.Update(ctx, corrupt, cqrs.ViewContext{ViewInstanceID: "lobby-1", Version: vc.Version, PreviousVersion: vc.Version}))

	rebuilder := NewRebuilder(store, query)
	rebuilt, err := rebuilder.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rebuilt)

	view, _, err := views.Load(ctx, "lobby-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Snowflake{1, 2}, view.Players)
}

func TestRebuilder_UnknownLobby(t *testing.T) {
	db := dbtest.Open(t)
	rebuilder := NewRebuilder(eventstore.NewLobbyEventStore(db))

	err := rebuilder.RebuildOne(context.Background(), "missing")
	assert.ErrorContains(t, err, "has no events")
}

func TestRebuilder_RepairsOnlyDriftedCacheViews(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	store := eventstore.NewLobbyEventStore(db)
	views := NewGormLobbyViewRepository(db)
	viewQuery := NewLobbyViewQuery(LobbyViewQueryName, views)
	cacheRepo := &expiringRepository{cqrs.NewMemoryViewRepository(NewLobbyView)}
	cacheQuery := NewLobbyViewQuery(LobbyCacheQueryName, cacheRepo)

	fw := domain.NewLobbyFramework(store, domain.LobbyServices{}).WithQueries(viewQuery, cacheQuery)
	require.NoError(t, fw.Execute(ctx, "lobby-1", domain.OpenLobby{OwnerID: 1, ChannelID: 10}))
	require.NoError(t, fw.Execute(ctx, "lobby-1", domain.AddPlayerToLobby{PlayerID: 2}))

	rebuilder := NewRebuilder(store, viewQuery, cacheQuery)
	drifts, err := rebuilder.FindDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	cacheRepo.expire()
	drifts, err = rebuilder.FindDrift(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Drift{{Query: LobbyCacheQueryName, LobbyID: "lobby-1", StreamVersion: 2, ViewVersion: 0}}, drifts)

	repaired, err := rebuilder.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	view, vc, err := cacheRepo.Load(ctx, "lobby-1")
	require.NoError(t, err)
	require.NotNil(t, vc)
	assert.Equal(t, 2, vc.Version)
	assert.Equal(t, []domain.Snowflake{1, 2}, view.Players)

	_, vc, err = views.Load(ctx, "lobby-1")
	require.NoError(t, err)
	assert.Equal(t, 2, vc.Version)
}
