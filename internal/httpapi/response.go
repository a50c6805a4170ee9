package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lattice-editor/server/internal/apperror"
)

// errorResponse is the standard error shape returned by every endpoint.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps a domain error to an HTTP status and sends it. The
// mapping lives here only, so no handler hardcodes a status code for a
// service-layer failure.
func writeError(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: "an internal error occurred"})
		return
	}

	status, kind := statusFor(err)
	c.JSON(status, errorResponse{Error: kind, Message: appErr.Message})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, apperror.ErrSandboxUnavailable):
		return http.StatusServiceUnavailable, "sandbox_unavailable"
	case errors.Is(err, apperror.ErrExecutionTimeout):
		return http.StatusGatewayTimeout, "execution_timeout"
	case errors.Is(err, apperror.ErrOutputLimit):
		return http.StatusUnprocessableEntity, "output_limit"
	case errors.Is(err, apperror.ErrTransient):
		return http.StatusServiceUnavailable, "transient_failure"
	case errors.Is(err, apperror.ErrInconsistentState):
		return http.StatusConflict, "inconsistent_state"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
