package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/handlers"
	"github.com/tristan-zander/runback/internal/matchmaking"
)

// statusFor maps an error to the HTTP status returned to callers
func statusFor(err error) int {
	switch {
	case handlers.IsValidationError(err):
		return http.StatusBadRequest
	case cqrs.IsDomainError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cqrs.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, matchmaking.ErrChannelNotFound):
		return http.StatusNotFound
	case cqrs.IsConnectionError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Only user-facing messages are echoed; other
// failures get a generic message.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()

	switch status {
	case http.StatusConflict:
		message = "the lobby changed while the command ran, try again"
	case http.StatusServiceUnavailable:
		message = "a backing service is unavailable"
	case http.StatusInternalServerError:
		message = "internal error"
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("Request failed")
	}

	c.JSON(status, gin.H{"error": message})
}
