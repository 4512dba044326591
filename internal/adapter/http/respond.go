package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"avelon-ledger/internal/apperr"
)

// writeError renders err as {"code","message"}. Internal details are shown
// only in development.
func writeError(c echo.Context, err error, dev bool) error {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Internal(err, "unexpected error")
	}
	msg := ae.Message
	if ae.Kind == apperr.KindInternal {
		if dev {
			msg = err.Error()
		} else {
			msg = "internal error"
		}
	}
	return c.JSON(apperr.HTTPStatus(ae.Kind), ErrorResponse{Code: ae.Code, Message: msg})
}

// bind decodes and validates the body. On failure it has already answered
// and returns false.
func bind(c echo.Context, req any) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, ErrorResponse{Code: "invalid_body", Message: "invalid body"})
	}
	if err := c.Validate(req); err != nil {
		return false, c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Code:    "validation_failed",
			Message: "validation failed",
			Details: ToFieldErrors(err),
		})
	}
	return true, nil
}
