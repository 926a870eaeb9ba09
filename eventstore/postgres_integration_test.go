//go:build integration

package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tristan-zander/runback/config"
	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/internal/database"
)

func TestGormEventStore_Postgres(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:16-alpine"),
		postgres.WithDatabase("runback"),
		postgres.WithUsername("runback"),
		postgres.WithPassword("runback"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Connect(config.DatabaseConfig{Driver: "postgres", Source: dsn, MaxOpenConns: 10}, nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	store := NewLobbyEventStore(db)
	_, err = store.Append(ctx, domain.LobbyAggregateType, "lobby-1", 0, openEvents(), nil)
	require.NoError(t, err)

	_, err = store.Append(ctx, domain.LobbyAggregateType, "lobby-1", 1, []domain.LobbyEvent{domain.LobbyClosedEvent{At: openedAt}}, nil)
	assert.ErrorIs(t, err, cqrs.ErrConcurrencyConflict)

	loaded, err := store.Load(ctx, domain.LobbyAggregateType, "lobby-1")
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	snapshots := NewGormSnapshotStore(db)
	require.NoError(t, snapshots.SaveSnapshot(ctx, cqrs.Snapshot{
		AggregateType: domain.LobbyAggregateType, AggregateID: "lobby-1", Version: 2, Payload: []byte(`{}`), CreatedAt: openedAt,
	}))
	snap, err := snapshots.LoadSnapshot(ctx, domain.LobbyAggregateType, "lobby-1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version)
}
