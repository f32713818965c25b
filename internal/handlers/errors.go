package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/core"

	"ticket-payments/internal/status"
)

// httpStatus maps an error kind to the response code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, status.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, status.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, status.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, status.ErrAuthentication), errors.Is(err, status.ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, status.ErrTransport):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the user-safe message for err. Details stay in the log.
func respondError(e *core.RequestEvent, logger *slog.Logger, err error) error {
	var fields validation.Errors
	if errors.As(err, &fields) {
		return e.JSON(http.StatusBadRequest, map[string]any{
			"error":  "invalid request",
			"fields": fields,
		})
	}

	code := httpStatus(err)
	body := map[string]any{"error": status.UserMessage(err)}
	switch code {
	case http.StatusNotFound:
		body["error"] = "not found"
	case http.StatusInternalServerError:
		body["error"] = "internal error"
	}
	if status.IsRetryable(err) {
		body["retryable"] = true
	}

	if code >= http.StatusInternalServerError {
		logger.Error("request failed", "path", e.Request.URL.Path, "status", code, "error", err)
	}
	return e.JSON(code, body)
}

func badRequest(e *core.RequestEvent, message string) error {
	return e.JSON(http.StatusBadRequest, map[string]string{"error": message})
}
