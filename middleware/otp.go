package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// OTP refuses tokens issued before the second factor was validated.
func OTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if pending, _ := claims(c)["otp"].(bool); pending {
			return c.Status(fiber.StatusBadRequest).
				JSON(fiber.Map{
					"status":  "error",
					"message": "2FA required",
					"data":    nil,
				})
		}

		return c.Next()
	}
}
