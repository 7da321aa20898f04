package util

import (
	"net/http"

	"github.com/go-openapi/strfmt"
	"github.com/labstack/echo/v4"
)

// Validatable is implemented by response and request payload types that can
// check their own required fields and formats.
type Validatable interface {
	Validate(formats strfmt.Registry) error
}

// ValidateAndReturn validates the payload and writes it as JSON. A response
// failing its own validation is a server bug, not a client error.
func ValidateAndReturn(c echo.Context, code int, payload interface{}) error {
	if v, ok := payload.(Validatable); ok {
		if err := v.Validate(strfmt.Default); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(code, payload)
}

// BindAndValidate binds the request body into payload and validates it.
func BindAndValidate(c echo.Context, payload interface{}) error {
	if err := c.Bind(payload); err != nil {
		return err
	}
	if v, ok := payload.(Validatable); ok {
		if err := v.Validate(strfmt.Default); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return nil
}
