package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeframe-dev/codeframe/pkg/store"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, validErr.Error())
	}
	if errors.Is(err, store.ErrForbidden) {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotApplied) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func errorKind(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "validation"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// errorHandler renders every error as {error:{kind, message}}.
func (s *Server) errorHandler(c *echo.Context, err error) {
	if r, _ := echo.UnwrapResponse(c.Response()); r != nil && r.Committed {
		return
	}
	he := &echo.HTTPError{Code: http.StatusInternalServerError, Message: "internal server error"}
	var known *echo.HTTPError
	if errors.As(err, &known) {
		he = known
	} else {
		slog.Error("Unhandled request error", "method", c.Request().Method, "path", c.Request().URL.Path, "error", err)
	}

	msg := he.Message
	if msg == "" {
		msg = http.StatusText(he.Code)
	}
	body := errorBody{Error: errorDetail{Kind: errorKind(he.Code), Message: msg}}
	if writeErr := c.JSON(he.Code, body); writeErr != nil {
		slog.Error("Failed to write error response", "error", writeErr)
	}
}
