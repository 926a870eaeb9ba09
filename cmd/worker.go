package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tristan-zander/runback/internal/metrics"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the projection worker",
	Long: `Start the background worker that dispatches pending events to every
query and periodically repairs lobby views that drifted from their streams.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)

	processor := a.eventProcessor()
	g.Go(func() error {
		processor.Start(ctx)
		<-ctx.Done()
		processor.Stop()
		return nil
	})

	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(a.cfg.Projection.Interval),
			gocron.NewTask(func() {
				pending, err := a.store.PendingCount(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Failed to count pending events")
					return
				}
				a.collector.SetGauge(metrics.GaugeUndispatchedEvents, float64(pending))
			}),
		)
		if err != nil {
			return err
		}

		if a.cfg.Projection.RepairInterval > 0 {
			rebuilder := a.rebuilder()
			_, err = scheduler.NewJob(
				gocron.DurationJob(a.cfg.Projection.RepairInterval),
				gocron.NewTask(func() {
					repaired, err := rebuilder.Repair(ctx)
					if err != nil {
						log.Error().Err(err).Msg("Failed to repair lobby views")
						return
					}
					if repaired > 0 {
						log.Info().Int("repaired", repaired).Msg("Repaired drifted lobby views")
					}
				}),
				gocron.WithSingletonMode(gocron.LimitModeReschedule),
			)
			if err != nil {
				return err
			}
		}

		scheduler.Start()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- scheduler.Shutdown() }()
		select {
		case err := <-done:
			return err
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker exited properly")
	return nil
}
