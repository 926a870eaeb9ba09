package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tristan-zander/runback/api"
	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/handlers"
	"github.com/tristan-zander/runback/messaging"
)

var withWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and command consumers",
	Long: `Start the HTTP API and, when a Service Bus connection string is set,
the lobby command consumer.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the projection worker in this process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Info().Str("environment", cfg.Environment).Msg("Starting server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lobbyHandler := handlers.NewLobbyHandler(a.framework, a.collector)

	deps := api.Dependencies{
		Lobbies:   lobbyHandler,
		Views:     a.views,
		Events:    a.store,
		Channels:  a.channels,
		Feed:      a.feed,
		Collector: a.collector,
		NewRelic:  a.newRelic,
	}
	if a.cacheViews != nil {
		deps.Cache = a.cacheViews
	}
	if a.searchViews != nil {
		deps.Search = a.searchViews
	}
	server := api.NewServer(cfg, deps)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Azure.QueueConnStr != "" {
		azureClient, err := messaging.NewAzureClient(cfg.Azure, a.collector)
		if err != nil {
			return err
		}
		defer azureClient.Close(context.Background())

		processor := messaging.NewProcessor(lobbyHandler)
		g.Go(func() error {
			return azureClient.StartConsumers(ctx, cfg.Azure.CommandsQueueName, processor)
		})
	} else {
		log.Warn().Msg("No Service Bus connection string configured, command consumer is disabled")
	}

	if withWorker || cfg.CQRS.DispatchMode == string(cqrs.DispatchAsync) {
		processor := a.eventProcessor()
		processor.Start(ctx)
		defer processor.Stop()
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	log.Info().Msg("Server exited properly")
	return nil
}
