package controller

import (
	"realtalk-service/middleware"
	"realtalk-service/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ChatAccessInput struct {
	UserID string `json:"userId"`
}

type GroupCreateInput struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
}

type GroupRenameInput struct {
	ChatID   string `json:"chatId"`
	ChatName string `json:"chatName"`
}

type GroupMemberInput struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type Chats struct {
	chats  *service.ChatService
	logger *zap.Logger
}

func NewChats(chats *service.ChatService, logger *zap.Logger) *Chats {
	return &Chats{chats: chats, logger: logger}
}

// Access opens (or creates) the direct chat with the given user.
func (h *Chats) Access(c *fiber.Ctx) error {
	input := new(ChatAccessInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	chat, err := h.chats.AccessOrCreateDirect(c.UserContext(), middleware.UserID(c), input.UserID)
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, chat)
}

func (h *Chats) List(c *fiber.Ctx) error {
	chats, err := h.chats.ListChats(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, chats)
}

func (h *Chats) CreateGroup(c *fiber.Ctx) error {
	input := new(GroupCreateInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	chat, err := h.chats.CreateGroup(c.UserContext(), input.Name, middleware.UserID(c), input.Users)
	if err != nil {
		return failure(c, h.logger, err)
	}
	return created(c, chat)
}

func (h *Chats) RenameGroup(c *fiber.Ctx) error {
	input := new(GroupRenameInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	chat, err := h.chats.Rename(c.UserContext(), input.ChatID, input.ChatName, middleware.UserID(c))
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, chat)
}

func (h *Chats) AddToGroup(c *fiber.Ctx) error {
	input := new(GroupMemberInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	chat, err := h.chats.AddMember(c.UserContext(), input.ChatID, input.UserID, middleware.UserID(c))
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, chat)
}

func (h *Chats) RemoveFromGroup(c *fiber.Ctx) error {
	input := new(GroupMemberInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	chat, err := h.chats.RemoveMember(c.UserContext(), input.ChatID, input.UserID, middleware.UserID(c))
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, chat)
}
