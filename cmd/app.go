package cmd

import (
	"context"
	"fmt"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tristan-zander/runback/config"
	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/eventstore"
	"github.com/tristan-zander/runback/internal/cache"
	"github.com/tristan-zander/runback/internal/database"
	"github.com/tristan-zander/runback/internal/matchmaking"
	"github.com/tristan-zander/runback/internal/metrics"
	"github.com/tristan-zander/runback/internal/telemetry"
	"github.com/tristan-zander/runback/projections"
)

// app holds the components shared by every command
type app struct {
	cfg         config.Config
	db          *gorm.DB
	collector   *metrics.Collector
	store       *eventstore.GormEventStore[domain.LobbyEvent]
	views       *projections.GormLobbyViewRepository
	cacheViews  *projections.RedisLobbyViewRepository
	searchViews *projections.ElasticLobbyViewRepository
	channels    *matchmaking.ChannelRepository
	feed        *projections.LobbyFeed
	queries     []domain.LobbyQuery
	rebuildable []projections.Rebuildable
	framework   *domain.LobbyFramework
	newRelic    *newrelic.Application
	closers     []func()
}

// newApp connects the database and every configured read model. Redis,
// Elasticsearch and Kafka are optional; a failed connection to Redis or
// Elasticsearch is logged and the service runs without it.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, collector: metrics.NewCollector()}

	db, err := database.Connect(cfg.Database, a.collector)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	a.db = db
	a.addCloser(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	a.store = eventstore.NewLobbyEventStore(db)
	stream := projections.LobbyStreamLoader(a.store)
	a.views = projections.NewGormLobbyViewRepository(db)
	viewQuery := projections.NewLobbyViewQuery(projections.LobbyViewQueryName, a.views).WithStreamLoader(stream)
	a.queries = append(a.queries, viewQuery)
	a.rebuildable = append(a.rebuildable, viewQuery)

	var channelCache *cache.RedisCache
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Redis, continuing without caching")
		} else {
			a.addCloser(func() { client.Close() })
			channelCache = cache.NewRedisCache(client, "runback", cfg.Redis.TTL)
			// Lobby views never expire; an evicted view is refilled from the stream.
			a.cacheViews = projections.NewRedisLobbyViewRepository(client, 0)
			cacheQuery := projections.NewLobbyViewQuery(projections.LobbyCacheQueryName, a.cacheViews).WithStreamLoader(stream)
			a.queries = append(a.queries, cacheQuery)
			a.rebuildable = append(a.rebuildable, cacheQuery)
		}
	}

	if cfg.Elasticsearch.URL != "" {
		client, err := projections.NewElasticsearchClient(cfg.Elasticsearch)
		if err == nil {
			err = projections.EnsureIndices(ctx, client, cfg)
		}
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch, continuing without search")
		} else {
			a.searchViews = projections.NewElasticLobbyViewRepository(client, cfg)
			searchQuery := projections.NewLobbyViewQuery(projections.LobbySearchQueryName, a.searchViews).WithStreamLoader(stream)
			a.queries = append(a.queries, searchQuery)
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		writer := projections.NewKafkaWriter(cfg.Kafka)
		a.addCloser(func() {
			if err := writer.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Kafka writer")
			}
		})
		a.queries = append(a.queries, projections.NewKafkaPublisher(writer))
	}

	a.feed = projections.NewLobbyFeed()
	a.queries = append(a.queries, a.feed)

	a.channels = matchmaking.NewChannelRepository(db, channelCache)
	services := domain.LobbyServices{Lobbies: matchmaking.NewLobbyService(a.channels, a.views)}

	a.framework = domain.NewLobbyFramework(a.store, services).
		WithQueries(a.queries...).
		WithSnapshots(eventstore.NewGormSnapshotStore(db), cfg.CQRS.SnapshotFrequency).
		WithCommandTimeout(cfg.CQRS.CommandTimeout).
		WithDispatchMode(cqrs.DispatchMode(cfg.CQRS.DispatchMode)).
		WithErrorHandler(a.onQueryError)

	a.newRelic, err = telemetry.InitNewRelic(cfg.NewRelic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize New Relic, continuing without tracing")
	}
	a.addCloser(func() { telemetry.Shutdown(a.newRelic) })

	return a, nil
}

func (a *app) onQueryError(ctx context.Context, query string, aggregateID string, err error) {
	a.collector.RecordProjection(query, false)
	cqrs.LogErrorHandler(ctx, query, aggregateID, err)
}

func (a *app) eventProcessor() *projections.EventProcessor {
	return projections.NewEventProcessor(a.store, a.queries, a.collector, a.cfg.Projection)
}

func (a *app) rebuilder() *projections.Rebuilder {
	return projections.NewRebuilder(a.store, a.rebuildable...)
}

func (a *app) addCloser(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
