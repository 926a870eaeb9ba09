package projections

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
)

// Rebuildable is a query that can replace its view from a full stream
type Rebuildable interface {
	Name() string
	Rebuild(ctx context.Context, aggregateID string, events []domain.LobbyEnvelope) error
	// ViewVersion is 0 when the view does not exist.
	ViewVersion(ctx context.Context, aggregateID string) (int, error)
}

// RebuildStore is what the rebuilder needs from the event store
type RebuildStore interface {
	cqrs.EventStore[domain.LobbyEvent]
	cqrs.StreamLister
}

// Drift is a view whose version differs from its stream length
type Drift struct {
	Query         string `json:"query"`
	LobbyID       string `json:"lobby_id"`
	StreamVersion int    `json:"stream_version"`
	ViewVersion   int    `json:"view_version"`
}

// Rebuilder repairs views by replaying the event store
type Rebuilder struct {
	store   RebuildStore
	queries []Rebuildable
}

// NewRebuilder creates a rebuilder over every query whose views it keeps in line
func NewRebuilder(store RebuildStore, queries ...Rebuildable) *Rebuilder {
	return &Rebuilder{store: store, queries: queries}
}

// RebuildOne replays one lobby's stream into every rebuildable query
func (r *Rebuilder) RebuildOne(ctx context.Context, lobbyID string) error {
	return r.rebuild(ctx, lobbyID, r.queries)
}

func (r *Rebuilder) rebuild(ctx context.Context, lobbyID string, queries []Rebuildable) error {
	events, err := r.store.Load(ctx, domain.LobbyAggregateType, lobbyID)
	if err != nil {
		return fmt.Errorf("failed to load lobby %s: %w", lobbyID, err)
	}
	if len(events) == 0 {
		return fmt.Errorf("lobby %s has no events", lobbyID)
	}

	for _, q := range queries {
		if err := q.Rebuild(ctx, lobbyID, events); err != nil {
			return fmt.Errorf("failed to rebuild %s for lobby %s: %w", q.Name(), lobbyID, err)
		}
	}
	log.Info().Str("lobbyID", lobbyID).Int("events", len(events)).Int("queries", len(queries)).Msg("Lobby views rebuilt")
	return nil
}

// RebuildAll replays every lobby stream. It keeps going after a failure and
// returns the number of lobbies rebuilt with the first error seen.
func (r *Rebuilder) RebuildAll(ctx context.Context) (int, error) {
	ids, err := r.store.AggregateIDs(ctx, domain.LobbyAggregateType)
	if err != nil {
		return 0, fmt.Errorf("failed to list lobbies: %w", err)
	}

	rebuilt := 0
	var firstErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}
		if err := r.RebuildOne(ctx, id); err != nil {
			log.Error().Err(err).Str("lobbyID", id).Msg("Failed to rebuild lobby")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rebuilt++
	}
	return rebuilt, firstErr
}

// FindDrift compares the views of every query with their streams
func (r *Rebuilder) FindDrift(ctx context.Context) ([]Drift, error) {
	ids, err := r.store.AggregateIDs(ctx, domain.LobbyAggregateType)
	if err != nil {
		return nil, fmt.Errorf("failed to list lobbies: %w", err)
	}

	drifts := make([]Drift, 0)
	for _, id := range ids {
		events, err := r.store.Load(ctx, domain.LobbyAggregateType, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load lobby %s: %w", id, err)
		}
		for _, q := range r.queries {
			viewVersion, err := q.ViewVersion(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s for lobby %s: %w", q.Name(), id, err)
			}
			if viewVersion != len(events) {
				drifts = append(drifts, Drift{Query: q.Name(), LobbyID: id, StreamVersion: len(events), ViewVersion: viewVersion})
			}
		}
	}
	return drifts, nil
}

// Repair rebuilds the drifted views of every lobby and returns how many
// lobbies were repaired. Only the queries that drifted are rebuilt.
func (r *Rebuilder) Repair(ctx context.Context) (int, error) {
	drifts, err := r.FindDrift(ctx)
	if err != nil {
		return 0, err
	}

	order := make([]string, 0)
	drifted := make(map[string][]Rebuildable)
	for _, d := range drifts {
		if _, ok := drifted[d.LobbyID]; !ok {
			order = append(order, d.LobbyID)
		}
		drifted[d.LobbyID] = append(drifted[d.LobbyID], r.query(d.Query))
	}

	repaired := 0
	for _, id := range order {
		if err := r.rebuild(ctx, id, drifted[id]); err != nil {
			log.Error().Err(err).Str("lobbyID", id).Msg("Failed to repair lobby view")
			continue
		}
		repaired++
	}
	if len(drifts) > 0 {
		log.Info().Int("drifted", len(drifts)).Int("repaired", repaired).Msg("Lobby view repair finished")
	}
	return repaired, nil
}

func (r *Rebuilder) query(name string) Rebuildable {
	for _, q := range r.queries {
		if q.Name() == name {
			return q
		}
	}
	return nil
}
