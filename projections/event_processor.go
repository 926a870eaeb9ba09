package projections

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tristan-zander/runback/config"
	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/internal/metrics"
)

type pendingCounter interface {
	PendingCount(ctx context.Context) (int64, error)
}

// EventProcessor dispatches events the command path appended but did not
// fully project, either because dispatch is async or because a query failed.
type EventProcessor struct {
	source             cqrs.DispatchSource[domain.LobbyEvent]
	queries            []domain.LobbyQuery
	collector          *metrics.Collector
	batchSize          int
	processingInterval time.Duration
	gracePeriod        time.Duration
	maxAttempts        int
	now                func() time.Time
	running            bool
	mutex              sync.Mutex
	stopChan           chan struct{}
	done               chan struct{}
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(
	source cqrs.DispatchSource[domain.LobbyEvent],
	queries []domain.LobbyQuery,
	collector *metrics.Collector,
	cfg config.ProjectionConfig,
) *EventProcessor {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &EventProcessor{
		source:             source,
		queries:            queries,
		collector:          collector,
		batchSize:          batchSize,
		processingInterval: interval,
		gracePeriod:        cfg.GracePeriod,
		maxAttempts:        cfg.MaxAttempts,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the processor until Stop is called or ctx is cancelled
func (p *EventProcessor) Start(ctx context.Context) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	go p.processEvents(ctx, p.stopChan, p.done)
}

// Stop stops the processor and waits for the current batch to finish
func (p *EventProcessor) Stop() {
	p.mutex.Lock()
	if !p.running {
		p.mutex.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	done := p.done
	p.mutex.Unlock()

	<-done
}

func (p *EventProcessor) processEvents(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.processingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to process event batch")
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProcessBatch dispatches one batch of undispatched events and returns how
// many were marked dispatched. Events of one aggregate are handed to the
// queries together, in sequence order, so a failure holds back that
// aggregate's later events until the next batch. Events that failed
// maxAttempts times are no longer fetched so they cannot starve the queue.
func (p *EventProcessor) ProcessBatch(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.gracePeriod)
	events, err := p.source.Undispatched(ctx, cutoff, p.maxAttempts, p.batchSize)
	if err != nil {
		return 0, err
	}
	p.reportPending(ctx)
	if len(events) == 0 {
		return 0, nil
	}

	log.Info().Msgf("Processing %d events", len(events))

	order := make([]string, 0)
	byAggregate := make(map[string][]domain.LobbyEnvelope)
	for _, env := range events {
		if _, ok := byAggregate[env.AggregateID]; !ok {
			order = append(order, env.AggregateID)
		}
		byAggregate[env.AggregateID] = append(byAggregate[env.AggregateID], env)
	}

	processed := 0
	for _, aggregateID := range order {
		envs := byAggregate[aggregateID]
		if err := p.dispatch(ctx, aggregateID, envs); err != nil {
			log.Error().Err(err).Str("aggregateID", aggregateID).Msg("Failed to process events")
			for _, env := range envs {
				if recErr := p.source.RecordDispatchFailure(ctx, env.EventID, err); recErr != nil {
					log.Error().Err(recErr).Str("eventID", env.EventID).Msg("Failed to record dispatch failure")
				}
			}
			continue
		}

		ids := make([]string, 0, len(envs))
		for _, env := range envs {
			ids = append(ids, env.EventID)
		}
		if err := p.source.MarkDispatched(ctx, ids); err != nil {
			log.Error().Err(err).Str("aggregateID", aggregateID).Msg("Failed to mark events as processed")
			continue
		}
		processed += len(ids)
	}
	return processed, nil
}

func (p *EventProcessor) dispatch(ctx context.Context, aggregateID string, envs []domain.LobbyEnvelope) error {
	tracker, _ := p.source.(cqrs.QueryDispatchTracker)

	var errs []error
	cqrs.DispatchPending(ctx, p.queries, tracker, aggregateID, envs, func(ctx context.Context, query, aggregateID string, err error) {
		errs = append(errs, err)
		if p.collector != nil {
			p.collector.RecordProjection(query, false)
		}
	})
	if p.collector != nil && len(errs) == 0 {
		for _, q := range p.queries {
			p.collector.RecordProjection(q.Name(), true)
		}
	}
	return errors.Join(errs...)
}

func (p *EventProcessor) reportPending(ctx context.Context) {
	counter, ok := p.source.(pendingCounter)
	if !ok || p.collector == nil {
		return
	}
	count, err := counter.PendingCount(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count undispatched events")
		return
	}
	p.collector.SetGauge(metrics.GaugeUndispatchedEvents, float64(count))
}
