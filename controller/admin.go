package controller

import (
	"github.com/gofiber/fiber/v2"
)

// OnlineLister reports the users currently holding a live connection.
type OnlineLister interface {
	Online() []string
}

type Admin struct {
	presence OnlineLister
}

func NewAdmin(presence OnlineLister) *Admin {
	return &Admin{presence: presence}
}

func (h *Admin) Presence(c *fiber.Ctx) error {
	online := h.presence.Online()
	return success(c, fiber.Map{
		"count": len(online),
		"users": online,
	})
}
