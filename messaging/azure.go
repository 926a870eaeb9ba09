package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"github.com/tristan-zander/runback/config"
	"github.com/tristan-zander/runback/internal/metrics"
)

// AzureClient consumes lobby commands from a session-enabled queue. Senders
// set the session id to the lobby id so each lobby's commands arrive in order.
type AzureClient struct {
	client    *azservicebus.Client
	collector *metrics.Collector
}

func NewAzureClient(cfg config.AzureConfig, collector *metrics.Collector) (*AzureClient, error) {
	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, err
	}

	return &AzureClient{client: client, collector: collector}, nil
}

// Close closes the underlying Service Bus client
func (a *AzureClient) Close(ctx context.Context) error {
	return a.client.Close(ctx)
}

// StartConsumers accepts sessions until ctx is cancelled
func (a *AzureClient) StartConsumers(ctx context.Context, queueName string, processor MessageProcessor) error {
	log.Info().Msgf("Starting consumers for queue %s", queueName)

	// Loop continuously to handle reconnections
	for {
		sessionReceiver, err := a.client.AcceptNextSessionForQueue(ctx, queueName, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				log.Debug().Msg("No session available, waiting...")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(2 * time.Second):
				}
				continue
			}
			return err
		}

		log.Info().Msgf("Session '%s' received", sessionReceiver.SessionID())

		go a.handleSession(ctx, sessionReceiver, processor)
	}
}

func (a *AzureClient) handleSession(ctx context.Context, receiver *azservicebus.SessionReceiver, processor MessageProcessor) {
	defer func() {
		log.Info().Msgf("Closing session '%s'", receiver.SessionID())
		err := receiver.Close(context.Background())
		if err != nil {
			log.Error().Err(err).Msgf("Error closing session '%s'", receiver.SessionID())
		}
	}()

	// Process messages in batches
	for {
		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msgf("Error receiving messages from session '%s'", receiver.SessionID())
			}
			return
		}

		if len(messages) == 0 {
			// No more messages in this session
			return
		}

		log.Info().Msgf("Received %d messages from session '%s'", len(messages), receiver.SessionID())

		for _, message := range messages {
			a.record(metrics.MessageBusOperationReceive, true)
			err := processor.ProcessMessage(ctx, message)
			a.settle(receiver, message, err)
		}
	}
}

func (a *AzureClient) settle(receiver *azservicebus.SessionReceiver, message *azservicebus.ReceivedMessage, processErr error) {
	// Settle even when ctx is being cancelled so the lock is not left to expire
	ctx := context.Background()

	switch Settle(processErr) {
	case Complete:
		if processErr != nil {
			log.Warn().Err(processErr).Msgf("Command in message '%s' was rejected", message.MessageID)
		}
		err := receiver.CompleteMessage(ctx, message, nil)
		if err != nil {
			log.Error().Err(err).Msgf("(CompleteMessage) err: %v", err)
		}
		a.record(metrics.MessageBusOperationComplete, err == nil)

	case DeadLetter:
		log.Error().Err(processErr).Msgf("Dead-lettering message '%s'", message.MessageID)
		err := receiver.DeadLetterMessage(ctx, message, &azservicebus.DeadLetterOptions{
			Reason:           to.Ptr("MalformedCommand"),
			ErrorDescription: to.Ptr(processErr.Error()),
		})
		if err != nil {
			log.Error().Err(err).Msgf("(DeadLetterMessage) err: %v", err)
		}
		a.record(metrics.MessageBusOperationDeadLetter, false)

	default:
		log.Error().Err(processErr).Msgf("Error processing message '%s'", message.MessageID)
		// Return the message to the queue
		err := receiver.AbandonMessage(ctx, message, nil)
		if err != nil {
			log.Error().Err(err).Msgf("(AbandonMessage) err: %v", err)
		}
		a.record(metrics.MessageBusOperationAbandon, false)
	}
}

func (a *AzureClient) record(operation string, success bool) {
	if a.collector != nil {
		a.collector.RecordMessageBusOperation(operation, success)
	}
}
