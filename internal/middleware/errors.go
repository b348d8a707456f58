package middleware

import (
	"errors"
	"net/http"

	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/gin-gonic/gin"
)

// StatusForError maps a domain error kind to its HTTP status.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrResourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrResourceBusy):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrUnsupportedTransactionType):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrRiskBlocked):
		return http.StatusConflict
	case errors.Is(err, models.ErrDownstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithDomainError writes {kind, message} for err. Unclassified errors
// are logged by the request logger and answered without detail.
func RespondWithDomainError(c *gin.Context, err error) {
	status := StatusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		message = "Internal server error"
	}
	c.JSON(status, gin.H{
		"kind":    models.ErrorKind(err),
		"message": message,
	})
}
