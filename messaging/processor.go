package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/handlers"
)

// Command types accepted on the commands queue
const (
	OpenLobby        = "OpenLobby"
	CloseLobby       = "CloseLobby"
	AddPlayerToLobby = "AddPlayerToLobby"
)

// SourceServiceBus is recorded as the metadata source of queued commands
const SourceServiceBus = "servicebus"

// AzureBusMessage is the common message structure
type AzureBusMessage struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// ErrMalformedMessage marks messages that can never be processed
var ErrMalformedMessage = errors.New("malformed message")

type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// LobbyCommands is the command surface the processor routes to
type LobbyCommands interface {
	HandleOpenLobby(ctx context.Context, cmd handlers.OpenLobbyCommand) (string, error)
	HandleCloseLobby(ctx context.Context, cmd handlers.CloseLobbyCommand) error
	HandleAddPlayer(ctx context.Context, cmd handlers.AddPlayerCommand) error
}

type Processor struct {
	lobbies LobbyCommands
}

func NewProcessor(lobbies LobbyCommands) *Processor {
	return &Processor{lobbies: lobbies}
}

func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var msg AzureBusMessage
	if err := json.Unmarshal(message.Body, &msg); err != nil {
		return fmt.Errorf("%w: error unmarshalling message: %v", ErrMalformedMessage, err)
	}

	log.Info().Str("eventType", msg.EventType).Str("messageID", message.MessageID).Msg("Processing message")

	ctx = handlers.WithCorrelationID(handlers.WithSource(ctx, SourceServiceBus), message.MessageID)

	switch msg.EventType {
	case OpenLobby:
		var cmd handlers.OpenLobbyCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		lobbyID, err := p.lobbies.HandleOpenLobby(ctx, cmd)
		if err != nil {
			return err
		}
		log.Info().Str("aggregateID", lobbyID).Str("messageID", message.MessageID).Msg("Lobby opened from queue")
		return nil

	case CloseLobby:
		var cmd handlers.CloseLobbyCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		return p.lobbies.HandleCloseLobby(ctx, cmd)

	case AddPlayerToLobby:
		var cmd handlers.AddPlayerCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		return p.lobbies.HandleAddPlayer(ctx, cmd)

	default:
		return fmt.Errorf("%w: unsupported event type: %s", ErrMalformedMessage, msg.EventType)
	}
}

func decode(data json.RawMessage, cmd interface{}) error {
	if err := json.Unmarshal(data, cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

// Settlement is what happens to a message after processing
type Settlement int

const (
	// Complete removes the message from the queue
	Complete Settlement = iota
	// Abandon returns the message for redelivery
	Abandon
	// DeadLetter moves the message to the dead-letter queue
	DeadLetter
)

// Settle decides a message's fate from the processing error. Malformed
// messages are dead-lettered and rejected commands completed; anything else
// is abandoned for redelivery.
func Settle(err error) Settlement {
	switch {
	case err == nil:
		return Complete
	case errors.Is(err, ErrMalformedMessage), handlers.IsValidationError(err):
		return DeadLetter
	case cqrs.IsDomainError(err):
		return Complete
	default:
		return Abandon
	}
}
