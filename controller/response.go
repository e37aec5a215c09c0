package controller

import (
	"realtalk-service/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var statusByKind = map[service.Kind]int{
	service.KindAuthentication: fiber.StatusUnauthorized,
	service.KindNotFound:       fiber.StatusNotFound,
	service.KindForbidden:      fiber.StatusForbidden,
	service.KindValidation:     fiber.StatusBadRequest,
	service.KindConflict:       fiber.StatusConflict,
	service.KindTimeout:        fiber.StatusServiceUnavailable,
}

func success(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    data,
	})
}

func created(c *fiber.Ctx, data any) error {
	c.Status(fiber.StatusCreated)
	return success(c, data)
}

func reviewInput(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"status":  "error",
		"message": "Review your input",
		"data":    nil,
	})
}

// failure renders a service error in the response envelope. Internal errors
// are logged here and hidden from clients.
func failure(c *fiber.Ctx, logger *zap.Logger, err error) error {
	kind := service.KindOf(err)
	status, ok := statusByKind[kind]
	message := err.Error()
	if !ok {
		logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		status = fiber.StatusInternalServerError
		message = "Internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"message": message,
		"data": fiber.Map{
			"kind":      kind.String(),
			"retryable": service.Retryable(err),
		},
	})
}
