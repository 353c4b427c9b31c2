package api

import (
	"errors"
	"log/slog"

	"medirag/types"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders every error returned before a stream starts as a
// single JSON body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return c.Status(apiErr.Code).JSON(apiErr)
	}
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return c.Status(valErr.Status).JSON(valErr)
	}

	apiErr = NewError(fiber.StatusInternalServerError, err.Error())
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		apiErr.Code = fiberErr.Code
	case errors.Is(err, types.ErrRetrievalUnavailable):
		apiErr.Code = fiber.StatusServiceUnavailable
	case errors.Is(err, types.ErrSetupFailure):
		apiErr.Code = fiber.StatusInternalServerError
	}

	slog.Warn("request failed", "path", c.Path(), "code", apiErr.Code, "error", apiErr.Message)
	return c.Status(apiErr.Code).JSON(apiErr)
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}
