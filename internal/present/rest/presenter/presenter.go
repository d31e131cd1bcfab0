package presenter

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opencurate/releasehub/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func BadRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func BadRequestMessage(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func NotFound(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, errorResponse{Error: msg})
}

func Unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: msg})
}

func InternalError(c echo.Context, err error) error {
	slog.Error(
		"Internal error",
		slog.String("error", err.Error()),
		slog.String("module", "rest"),
	)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

// Error maps the error taxonomy onto HTTP statuses. An authorization failure
// renders as 404 so non-participants cannot distinguish a withheld release
// from a missing one. Every error renders as 400 or above, never a success.
func Error(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotEnabled):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotAuthorised):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ReleaseActivationStateError{}),
		errors.Is(err, domain.ReleaseDeactivationStateError{}),
		errors.Is(err, domain.SelectionFrozenError{}):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		return InternalError(c, err)
	}
}
