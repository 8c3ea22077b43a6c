package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sonicalchemy/studio/internal/agents"
	"github.com/sonicalchemy/studio/internal/compose"
	"github.com/sonicalchemy/studio/internal/identity"
	"github.com/sonicalchemy/studio/internal/ledger"
	"github.com/sonicalchemy/studio/internal/studio"
	"go.uber.org/zap"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, ledger.ErrSameAccount),
		errors.Is(err, ledger.ErrUnknownRail),
		errors.Is(err, ledger.ErrInvalidToken),
		errors.Is(err, identity.ErrInvalidIdentity),
		errors.Is(err, compose.ErrEmptyPrompt),
		errors.Is(err, compose.ErrInvalidTempo):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnknownToken),
		errors.Is(err, identity.ErrUnknownIdentity),
		errors.Is(err, agents.ErrUnknownSender):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrSupplyExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrTokenExists),
		errors.Is(err, identity.ErrIdentityExists):
		return http.StatusConflict
	case errors.Is(err, studio.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, compose.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the status mapped from err. Unexpected errors are
// logged and hidden from the client.
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(op, zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
