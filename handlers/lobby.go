package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/internal/metrics"
	"github.com/tristan-zander/runback/utils"
)

// Command structs
type OpenLobbyCommand struct {
	LobbyID     string `json:"lobby_id" validate:"omitempty,lobby_id"`
	OwnerID     string `json:"owner_id" validate:"required,snowflake"`
	ChannelID   string `json:"channel_id" validate:"required,snowflake"`
	RequestedBy string `json:"requested_by" validate:"omitempty,snowflake"`
}

type CloseLobbyCommand struct {
	LobbyID     string `json:"lobby_id" validate:"required,lobby_id"`
	RequestedBy string `json:"requested_by" validate:"omitempty,snowflake"`
}

type AddPlayerCommand struct {
	LobbyID     string `json:"lobby_id" validate:"required,lobby_id"`
	PlayerID    string `json:"player_id" validate:"required,snowflake"`
	RequestedBy string `json:"requested_by" validate:"omitempty,snowflake"`
}

// ValidationError is returned when a command is malformed
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidationError reports whether err is a *ValidationError
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// Metadata keys recorded with every event
const (
	MetadataSource        = "source"
	MetadataCorrelationID = "correlation_id"
	MetadataRequestedBy   = "requested_by"
	MetadataCommand       = "command"
)

type contextKey int

const (
	sourceKey contextKey = iota
	correlationKey
)

// WithSource tags commands executed with ctx with the surface they came from
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// WithCorrelationID tags commands executed with ctx with a request id
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CommandExecutor runs lobby commands
type CommandExecutor interface {
	ExecuteWithMetadata(ctx context.Context, aggregateID string, cmd domain.LobbyCommand, metadata map[string]string) error
}

// LobbyHandler validates caller requests and turns them into lobby commands
type LobbyHandler struct {
	executor  CommandExecutor
	collector *metrics.Collector
}

// NewLobbyHandler creates a new lobby handler; collector may be nil
func NewLobbyHandler(executor CommandExecutor, collector *metrics.Collector) *LobbyHandler {
	return &LobbyHandler{executor: executor, collector: collector}
}

// HandleOpenLobby opens a lobby and returns its id. A lobby id is generated
// when the caller does not supply one.
func (h *LobbyHandler) HandleOpenLobby(ctx context.Context, cmd OpenLobbyCommand) (string, error) {
	if err := validate(cmd); err != nil {
		return "", err
	}
	if cmd.LobbyID == "" {
		cmd.LobbyID = uuid.New().String()
	}

	log.Info().Str("aggregateID", cmd.LobbyID).Str("ownerID", cmd.OwnerID).Msg("Handling OpenLobby command")

	// Validated above
	owner, _ := domain.ParseSnowflake(cmd.OwnerID)
	channel, _ := domain.ParseSnowflake(cmd.ChannelID)

	err := h.execute(ctx, "OpenLobby", cmd.LobbyID, cmd.RequestedBy, domain.OpenLobby{OwnerID: owner, ChannelID: channel})
	if err != nil {
		return "", err
	}
	return cmd.LobbyID, nil
}

// HandleCloseLobby closes a lobby
func (h *LobbyHandler) HandleCloseLobby(ctx context.Context, cmd CloseLobbyCommand) error {
	if err := validate(cmd); err != nil {
		return err
	}

	log.Info().Str("aggregateID", cmd.LobbyID).Msg("Handling CloseLobby command")
	return h.execute(ctx, "CloseLobby", cmd.LobbyID, cmd.RequestedBy, domain.CloseLobby{})
}

// HandleAddPlayer adds a player to a lobby
func (h *LobbyHandler) HandleAddPlayer(ctx context.Context, cmd AddPlayerCommand) error {
	if err := validate(cmd); err != nil {
		return err
	}

	log.Info().Str("aggregateID", cmd.LobbyID).Str("playerID", cmd.PlayerID).Msg("Handling AddPlayerToLobby command")

	player, _ := domain.ParseSnowflake(cmd.PlayerID)
	return h.execute(ctx, "AddPlayerToLobby", cmd.LobbyID, cmd.RequestedBy, domain.AddPlayerToLobby{PlayerID: player})
}

func (h *LobbyHandler) execute(ctx context.Context, name, lobbyID, requestedBy string, cmd domain.LobbyCommand) error {
	defer newrelic.FromContext(ctx).StartSegment("lobby." + name).End()

	start := time.Now()
	err := h.executor.ExecuteWithMetadata(ctx, lobbyID, cmd, commandMetadata(ctx, name, requestedBy))
	outcome := Outcome(err)
	if h.collector != nil {
		h.collector.RecordCommand(name, outcome, time.Since(start))
	}

	switch outcome {
	case metrics.CommandAccepted:
		log.Info().Str("aggregateID", lobbyID).Str("command", name).Msg("Command accepted")
	case metrics.CommandRejected:
		log.Info().Str("aggregateID", lobbyID).Str("command", name).Str("reason", err.Error()).Msg("Command rejected")
	case metrics.CommandConflicted:
		log.Warn().Str("aggregateID", lobbyID).Str("command", name).Msg("Command lost a concurrent write")
	default:
		log.Error().Err(err).Str("aggregateID", lobbyID).Str("command", name).Msg("Command failed")
	}
	return err
}

// Outcome classifies a command result for metrics
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.CommandAccepted
	case cqrs.IsDomainError(err):
		return metrics.CommandRejected
	case errors.Is(err, cqrs.ErrConcurrencyConflict):
		return metrics.CommandConflicted
	default:
		return metrics.CommandFailed
	}
}

func commandMetadata(ctx context.Context, name, requestedBy string) map[string]string {
	metadata := map[string]string{MetadataCommand: name}
	if source, ok := ctx.Value(sourceKey).(string); ok && source != "" {
		metadata[MetadataSource] = source
	}
	if id, ok := ctx.Value(correlationKey).(string); ok && id != "" {
		metadata[MetadataCorrelationID] = id
	}
	if requestedBy != "" {
		metadata[MetadataRequestedBy] = requestedBy
	}
	return metadata
}

func validate(cmd interface{}) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return &ValidationError{Message: utils.ValidationMessage(err)}
	}
	return nil
}
