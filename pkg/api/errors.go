package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/pipeline"
	"github.com/ngo-platform/media-scraper/pkg/settings"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// APIError is a handler failure with the status and operator-facing message to send
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%d: %s: %v", e.Status, e.Message, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func badRequest(message string) *APIError {
	return &APIError{Status: fiber.StatusBadRequest, Message: message}
}

// statusFor maps error sentinels onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, utils.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, utils.ErrDuplicate), errors.Is(err, utils.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, utils.ErrInvalidURL), errors.Is(err, utils.ErrParsing),
		errors.Is(err, utils.ErrConfigValidation), errors.Is(err, settings.ErrInvalidPatch),
		errors.Is(err, pipeline.ErrEmptyBatch):
		return fiber.StatusBadRequest
	case errors.Is(err, utils.ErrBodyTooLarge):
		return fiber.StatusRequestEntityTooLarge
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler renders every handler error as {success:false, message, error}
func ErrorHandler(log *logrus.Entry) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		message := "Internal server error"
		detail := err.Error()

		var apiErr *APIError
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &apiErr):
			status = apiErr.Status
			message = apiErr.Message
			if apiErr.Err != nil {
				detail = apiErr.Err.Error()
			} else {
				detail = ""
			}
		case errors.As(err, &fiberErr):
			status = fiberErr.Code
			message = fiberErr.Message
			detail = ""
		default:
			status = statusFor(err)
			if status != fiber.StatusInternalServerError {
				message = err.Error()
			}
		}

		reqLog := log.WithFields(logrus.Fields{"method": c.Method(), "path": c.Path(), "status": status})
		if status >= fiber.StatusInternalServerError {
			reqLog.Errorf("Request failed: %v", err)
		} else {
			reqLog.Debugf("Request rejected: %v", err)
		}

		body := fiber.Map{"success": false, "message": message}
		if detail != "" {
			body["error"] = detail
		}
		return c.Status(status).JSON(body)
	}
}
