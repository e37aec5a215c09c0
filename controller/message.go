package controller

import (
	"realtalk-service/middleware"
	"realtalk-service/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type MessageSendInput struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

type Messages struct {
	messages *service.MessageService
	logger   *zap.Logger
}

func NewMessages(messages *service.MessageService, logger *zap.Logger) *Messages {
	return &Messages{messages: messages, logger: logger}
}

func (h *Messages) Send(c *fiber.Ctx) error {
	input := new(MessageSendInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	message, err := h.messages.Send(c.UserContext(), middleware.UserID(c), input.ChatID, input.Content)
	if err != nil {
		return failure(c, h.logger, err)
	}
	return created(c, message)
}

func (h *Messages) List(c *fiber.Ctx) error {
	messages, err := h.messages.List(c.UserContext(), c.Params("chatId"), middleware.UserID(c))
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, messages)
}

func (h *Messages) MarkRead(c *fiber.Ctx) error {
	if err := h.messages.MarkRead(c.UserContext(), c.Params("chatId"), middleware.UserID(c)); err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, nil)
}
