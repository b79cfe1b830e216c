package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/feral-file/passport-ledger/internal/api/auth"
	apierrors "github.com/feral-file/passport-ledger/internal/api/shared/errors"
	"github.com/feral-file/passport-ledger/internal/blob"
	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/logger"
)

// respondBadRequest responds with a bad request error
func respondBadRequest(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusBadRequest, apierrors.NewBadRequestError(message, details...))
}

// respondValidationError responds with a validation error
func respondValidationError(c *gin.Context, err error) {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		c.JSON(http.StatusBadRequest, apiErr)
		return
	}
	c.JSON(http.StatusBadRequest, apierrors.NewValidationError(err.Error()))
}

// respondUnauthorized responds with an unauthorized error
func respondUnauthorized(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusUnauthorized, apierrors.NewUnauthorizedError(message, details...))
}

// respondForbidden responds with a forbidden error
func respondForbidden(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusForbidden, apierrors.NewForbiddenError(message, details...))
}

// respondInternalError logs the error and responds with an internal server error
func respondInternalError(c *gin.Context, err error, message string, fields ...zap.Field) {
	logger.ErrorCtx(c.Request.Context(), err, fields...)
	c.JSON(http.StatusInternalServerError, apierrors.NewInternalError(message))
}

// mapLedgerError converts a ledger error to its HTTP status and API error.
// Errors that are not ledger kinds are internal.
func mapLedgerError(err error) (int, *apierrors.APIError) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, apierrors.NewNotFoundError("Not found", err.Error())
	case errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden, apierrors.NewForbiddenError("Caller is not the owner", err.Error())
	case errors.Is(err, domain.ErrInactive),
		errors.Is(err, domain.ErrAlreadyInactive),
		errors.Is(err, domain.ErrAlreadyProcessed),
		errors.Is(err, domain.ErrNoActiveDelegation):
		return http.StatusConflict, apierrors.NewConflictError("Conflicting state", err.Error())
	case errors.Is(err, domain.ErrInvalidDelegatee),
		errors.Is(err, domain.ErrInvalidLevel),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrSelfVerification),
		errors.Is(err, domain.ErrInvalidIdentity):
		return http.StatusBadRequest, apierrors.NewValidationError(err.Error())
	default:
		return http.StatusInternalServerError, apierrors.NewInternalError("Ledger operation failed")
	}
}

// respondLedgerError responds with the mapped ledger error, logging internal ones
func respondLedgerError(c *gin.Context, err error, fields ...zap.Field) {
	status, apiErr := mapLedgerError(err)
	if status == http.StatusInternalServerError {
		logger.ErrorCtx(c.Request.Context(), err, fields...)
	}
	c.JSON(status, apiErr)
}

// respondAuthError maps wallet login failures
func respondAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, apierrors.NewValidationError(err.Error()))
	case errors.Is(err, auth.ErrChallengeNotFound),
		errors.Is(err, auth.ErrChallengeExpired),
		errors.Is(err, auth.ErrInvalidSignature):
		respondUnauthorized(c, "Login failed", err.Error())
	default:
		respondInternalError(c, err, "Login failed")
	}
}

// respondBlobError maps document upload failures
func respondBlobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, blob.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, apierrors.NewPayloadTooLargeError("Document too large", err.Error()))
	case errors.Is(err, blob.ErrEmpty), errors.Is(err, blob.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, apierrors.NewValidationError(err.Error()))
	default:
		respondInternalError(c, err, "Failed to store document")
	}
}
