package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/spotguard/spotguard/internal/store"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(error, message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   error,
		Message: message,
	}
}

// ErrorBadRequest returns a 400 Bad Request error
func ErrorBadRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", message))
}

// ErrorUnauthorized returns a 401 Unauthorized error
func ErrorUnauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", message))
}

// ErrorForbidden returns a 403 Forbidden error
func ErrorForbidden(c echo.Context, message string) error {
	return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", message))
}

// ErrorNotFound returns a 404 Not Found error
func ErrorNotFound(c echo.Context, message string) error {
	return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", message))
}

// ErrorConflict returns a 409 Conflict error
func ErrorConflict(c echo.Context, message string) error {
	return c.JSON(http.StatusConflict, NewErrorResponse("conflict", message))
}

// ErrorUnprocessable returns a 422 Unprocessable Entity error
func ErrorUnprocessable(c echo.Context, message string) error {
	return c.JSON(http.StatusUnprocessableEntity, NewErrorResponse("validation_failed", message))
}

// ErrorTooManyRequests returns a 429 Too Many Requests error
func ErrorTooManyRequests(c echo.Context, message string) error {
	return c.JSON(http.StatusTooManyRequests, NewErrorResponse("rate_limited", message))
}

// ErrorInternal returns a 500 Internal Server Error
func ErrorInternal(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", message))
}

// ErrorFromStore maps store sentinel errors onto HTTP responses
func ErrorFromStore(c echo.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrorNotFound(c, "Resource not found")
	case errors.Is(err, store.ErrVersionConflict):
		return ErrorConflict(c, "Resource was modified concurrently, retry with fresh state")
	case errors.Is(err, store.ErrInvalidTransition):
		return ErrorConflict(c, "Requested state transition is not allowed")
	case errors.Is(err, store.ErrModeConflict):
		return ErrorConflict(c, "The other replica mode is enabled, disable it first")
	case errors.Is(err, store.ErrReplicaExists):
		return ErrorConflict(c, "An active replica already exists for this agent")
	default:
		return ErrorInternal(c, err.Error())
	}
}
