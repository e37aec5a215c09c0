package middleware

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Enforcer interface {
	Enforce(rvals ...interface{}) (bool, error)
}

func RBAC(enforcer Enforcer, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accepted, err := enforcer.Enforce(UserID(c), c.Path(), c.Method())
		if err != nil {
			logger.Error("policy check failed", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status":  "error",
				"message": "Internal server error",
				"data":    nil,
			})
		}

		if !accepted {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"status":  "error",
				"message": "Unauthorized",
				"data":    nil,
			})
		}

		return c.Next()
	}
}
