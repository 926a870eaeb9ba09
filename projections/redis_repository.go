package projections

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/internal/database"
)

const redisLobbyViewPrefix = "runback:lobby_view:"

type redisLobbyDocument struct {
	Version int        `json:"version"`
	View    *LobbyView `json:"view"`
}

// RedisLobbyViewRepository keeps lobby views in Redis for low latency reads
type RedisLobbyViewRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ cqrs.ViewRepository[*LobbyView] = (*RedisLobbyViewRepository)(nil)

// NewRedisLobbyViewRepository creates a repository; ttl of zero keeps keys forever
func NewRedisLobbyViewRepository(client redis.UniversalClient, ttl time.Duration) *RedisLobbyViewRepository {
	return &RedisLobbyViewRepository{client: client, ttl: ttl}
}

func redisLobbyKey(id string) string {
	return redisLobbyViewPrefix + id
}

// Load reads a lobby view
func (r *RedisLobbyViewRepository) Load(ctx context.Context, viewID string) (*LobbyView, *cqrs.ViewContext, error) {
	data, err := r.client.Get(ctx, redisLobbyKey(viewID)).Bytes()
	if err == redis.Nil {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, database.Classify("load lobby view", errors.Wrap(err, "redis get"))
	}

	doc, err := decodeRedisLobby(data)
	if err != nil {
		return nil, nil, err
	}
	return doc.View, &cqrs.ViewContext{
		ViewInstanceID:  viewID,
		Version:         doc.Version,
		PreviousVersion: doc.Version,
	}, nil
}

// Create stores a view unless the key exists
func (r *RedisLobbyViewRepository) Create(ctx context.Context, view *LobbyView, vc cqrs.ViewContext) error {
	data, err := json.Marshal(redisLobbyDocument{Version: vc.Version, View: view})
	if err != nil {
		return &cqrs.PersistenceError{Kind: cqrs.KindUnknown, Op: "create lobby view", Err: err}
	}

	created, err := r.client.SetNX(ctx, redisLobbyKey(vc.ViewInstanceID), data, r.ttl).Result()
	if err != nil {
		return database.Classify("create lobby view", errors.Wrap(err, "redis setnx"))
	}
	if !created {
		return fmt.Errorf("%w: lobby %s", cqrs.ErrViewAlreadyExists, vc.ViewInstanceID)
	}
	return nil
}

// Update replaces a view stored at vc.PreviousVersion using an optimistic WATCH transaction
func (r *RedisLobbyViewRepository) Update(ctx context.Context, view *LobbyView, vc cqrs.ViewContext) error {
	key := redisLobbyKey(vc.ViewInstanceID)
	data, err := json.Marshal(redisLobbyDocument{Version: vc.Version, View: view})
	if err != nil {
		return &cqrs.PersistenceError{Kind: cqrs.KindUnknown, Op: "update lobby view", Err: err}
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("%w: lobby %s", cqrs.ErrViewNotFound, vc.ViewInstanceID)
		}
		if err != nil {
			return errors.Wrap(err, "redis get")
		}

		doc, err := decodeRedisLobby(current)
		if err != nil {
			return err
		}
		if doc.Version != vc.PreviousVersion {
			return fmt.Errorf("%w: lobby %s is at version %d, expected %d",
				cqrs.ErrViewVersionConflict, vc.ViewInstanceID, doc.Version, vc.PreviousVersion)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case err == redis.TxFailedErr:
		return fmt.Errorf("%w: lobby %s changed during update", cqrs.ErrViewVersionConflict, vc.ViewInstanceID)
	case cqrs.IsViewConflict(err), errors.Is(err, cqrs.ErrViewNotFound):
		return err
	default:
		return database.Classify("update lobby view", err)
	}
}

func decodeRedisLobby(data []byte) (redisLobbyDocument, error) {
	var doc redisLobbyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, &cqrs.PersistenceError{Kind: cqrs.KindUnknown, Op: "decode lobby view", Err: err}
	}
	if doc.View == nil {
		doc.View = NewLobbyView()
	}
	return doc, nil
}
