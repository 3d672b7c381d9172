package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// RequestValidator checks agent API payloads against their struct tags.
// Agents act on 4xx responses, so failures name the offending fields
// instead of echoing Go struct internals.
type RequestValidator struct {
	validator *validator.Validate
}

// NewValidator creates the validator Echo binds to every request
func NewValidator() *RequestValidator {
	return &RequestValidator{validator: validator.New()}
}

// Validate implements echo.Validator
func (v *RequestValidator) Validate(i interface{}) error {
	err := v.validator.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		parts := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			parts = append(parts, fmt.Sprintf("%s fails %q", fe.Field(), fe.Tag()))
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, strings.Join(parts, ", "))
	}

	return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
}
