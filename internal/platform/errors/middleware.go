package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Middleware renders errors returned by handlers as JSON. Echo HTTPErrors
// (CSRF, rate limiter, 404 routing) are counted and passed through so echo
// keeps their status code. errorsTotal may be nil.
func Middleware(errorsTotal *prometheus.CounterVec) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				count(errorsTotal, WrapHTTPError(httpErr).Type)
				return err
			}

			return render(c, errorsTotal, AsStructuredError(err))
		}
	}
}

// Respond writes err the same way Middleware would, for handlers that must
// finish the response themselves.
func Respond(c echo.Context, errorsTotal *prometheus.CounterVec, err error) error {
	if err == nil {
		return nil
	}
	return render(c, errorsTotal, AsStructuredError(err))
}

func render(c echo.Context, errorsTotal *prometheus.CounterVec, err *Error) error {
	count(errorsTotal, err.Type)
	logError(c, err)
	if writeErr := c.JSON(err.HTTPStatus(), err.ToResponse()); writeErr != nil {
		return fmt.Errorf("failed to write error response: %w", writeErr)
	}
	return nil
}

func count(errorsTotal *prometheus.CounterVec, t ErrorType) {
	if errorsTotal != nil {
		errorsTotal.WithLabelValues(string(t)).Inc()
	}
}

func logError(c echo.Context, err *Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}
	if userID := c.Get("userID"); userID != nil {
		attrs = append(attrs, "user_id", userID)
	}
	ctx := c.Request().Context()

	switch err.Type {
	case TypeValidation, TypeNotFound, TypeUnauthorized:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case TypeExternal:
		slog.ErrorContext(ctx, "External service error", append(attrs, "cause", err.Cause)...)
	default:
		slog.ErrorContext(ctx, "Internal error", append(attrs, "cause", err.Cause)...)
	}
}

// WrapHTTPError maps an echo.HTTPError onto the closest ErrorType.
func WrapHTTPError(httpErr *echo.HTTPError) *Error {
	message := "internal server error"
	if msg, ok := httpErr.Message.(string); ok {
		message = msg
	}

	var errType ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusMethodNotAllowed, http.StatusTooManyRequests:
		errType = TypeValidation
	case http.StatusUnauthorized:
		errType = TypeUnauthorized
	case http.StatusNotFound:
		errType = TypeNotFound
	case http.StatusConflict:
		errType = TypeConflict
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		errType = TypeExternal
	default:
		errType = TypeInternal
	}

	return newError(errType, message, httpErr.Internal)
}
