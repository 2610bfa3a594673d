package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"erp_sync/internal/domain"
	"erp_sync/internal/retry"
	"erp_sync/internal/service"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// handleError maps domain errors to status codes. Internal details are only
// logged.
func handleError(c *gin.Context, err error, logger *slog.Logger) {
	var (
		status int
		resp   ErrorResponse
	)

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusUnprocessableEntity
		resp = ErrorResponse{Error: "invalid_input", Message: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		resp = ErrorResponse{Error: "not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		resp = ErrorResponse{Error: "conflict", Message: err.Error()}
	case errors.Is(err, domain.ErrMissingCredential):
		status = http.StatusPreconditionFailed
		resp = ErrorResponse{Error: "missing_credential", Message: "The tenant has no active accounting connection"}
	case errors.Is(err, service.ErrInvalidSignature):
		status = http.StatusUnauthorized
		resp = ErrorResponse{Error: "invalid_signature", Message: "Webhook signature does not match the payload"}
	case retry.IsFatal(err):
		status = http.StatusBadGateway
		resp = ErrorResponse{Error: "upstream_rejected", Message: err.Error()}
	default:
		status = http.StatusInternalServerError
		resp = ErrorResponse{Error: "internal_error", Message: "An internal error occurred"}
	}

	logger.Error("request failed",
		slog.Int("status_code", status),
		slog.String("error_code", resp.Error),
		slog.Any("error", err),
	)
	c.JSON(status, resp)
}

func handleBadRequest(c *gin.Context, err error, logger *slog.Logger) {
	logger.Warn("bad request", slog.Any("error", err))
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
}

func handleValidationError(c *gin.Context, err error, logger *slog.Logger) {
	logger.Warn("validation failed", slog.Any("error", err))
	c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "validation_error", Message: err.Error()})
}
