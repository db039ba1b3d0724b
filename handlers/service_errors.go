package handlers

import (
	"net/http"

	"github.com/upb/grc-control-plane/services"
	"github.com/upb/grc-control-plane/utils"
	"go.uber.org/zap"
)

// StatusForError maps a domain error kind to its HTTP status
func StatusForError(err error) int {
	switch services.GetErrorType(err) {
	case services.ErrorTypeNotFound:
		return http.StatusNotFound
	case services.ErrorTypeValidation:
		return http.StatusBadRequest
	case services.ErrorTypeMissingContext:
		return http.StatusUnauthorized
	case services.ErrorTypePolicyViolation:
		return http.StatusForbidden
	case services.ErrorTypeConflict, services.ErrorTypeDuplicatePlanCode:
		return http.StatusConflict
	case services.ErrorTypeInvalidTransition, services.ErrorTypeInvalidProgress:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status := StatusForError(err)
	if status == http.StatusInternalServerError {
		// Log internal errors but return generic message
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
		return
	}

	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}
	if err := utils.WriteError(w, status, err.Error(), details); err != nil {
		logger.Error("failed to write error response", zap.Error(err), zap.Int("status", status))
	}

	logger.Debug("handled service error",
		zap.String("type", string(services.GetErrorType(err))),
		zap.Int("status", status))
}
