package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"

	"github.com/tristan-zander/runback/config"
	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/handlers"
	"github.com/tristan-zander/runback/internal/matchmaking"
	"github.com/tristan-zander/runback/internal/metrics"
	"github.com/tristan-zander/runback/projections"
)

// ViewReader loads a single lobby view
type ViewReader interface {
	Load(ctx context.Context, viewID string) (*projections.LobbyView, *cqrs.ViewContext, error)
}

// LobbySearcher runs lobby searches
type LobbySearcher interface {
	Search(ctx context.Context, search projections.LobbySearch) ([]*projections.LobbyView, error)
}

// Dependencies are the components the server exposes. Cache, Search, Feed
// and NewRelic are optional.
type Dependencies struct {
	Lobbies   *handlers.LobbyHandler
	Views     *projections.GormLobbyViewRepository
	Cache     ViewReader
	Search    LobbySearcher
	Events    cqrs.EventStore[domain.LobbyEvent]
	Channels  *matchmaking.ChannelRepository
	Feed      *projections.LobbyFeed
	Collector *metrics.Collector
	NewRelic  *newrelic.Application
}

// Server is the HTTP server for the API
type Server struct {
	cfg        config.Config
	router     *gin.Engine
	httpServer *http.Server
	deps       Dependencies
}

// NewServer creates a new API server
func NewServer(cfg config.Config, deps Dependencies) *Server {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Collector == nil {
		deps.Collector = metrics.NewCollector()
	}

	server := &Server{
		cfg:    cfg,
		router: gin.New(),
		deps:   deps,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())
	s.router.Use(CORSMiddleware(s.cfg.Server.CorsOrigins))
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware())
	s.router.Use(MetricsMiddleware(s.deps.Collector))

	if s.deps.NewRelic != nil {
		s.router.Use(nrgin.Middleware(s.deps.NewRelic))
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		s.router.Use(RateLimitMiddleware(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst))
	}
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", s.metrics)

	v1 := s.router.Group("/api/v1")

	lobbyRoutes := v1.Group("/lobbies")
	{
		lobbyRoutes.POST("", s.openLobby)
		lobbyRoutes.GET("", s.listLobbies)
		lobbyRoutes.GET("/search", s.searchLobbies)
		lobbyRoutes.GET("/:id", s.getLobby)
		lobbyRoutes.POST("/:id/close", s.closeLobby)
		lobbyRoutes.POST("/:id/players", s.addPlayer)
		lobbyRoutes.GET("/:id/events", s.getLobbyEvents)
		lobbyRoutes.GET("/:id/ws", s.lobbyFeed)
	}

	if s.cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("No JWT secret configured, admin routes are disabled")
		return
	}

	adminRoutes := v1.Group("/admin", AdminAuthMiddleware(s.cfg.Auth.JWTSecret))
	{
		adminRoutes.PUT("/channels/:channel_id", s.configureChannel)
		adminRoutes.GET("/channels/:channel_id", s.getChannel)
		adminRoutes.DELETE("/channels/:channel_id", s.disableChannel)
		adminRoutes.GET("/guilds/:guild_id/channels", s.listChannels)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Collector.GetHealthStatus())
}

func (s *Server) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Collector.GetMetrics())
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        s.cfg.Server.Address,
		Handler:     s.router,
		ReadTimeout: s.cfg.Server.Timeout,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.Server.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
