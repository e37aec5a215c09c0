package controller

import (
	"realtalk-service/middleware"
	"realtalk-service/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type UserUpdateInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
	Password string `json:"password"`
}

type FriendResponseInput struct {
	UserID string `json:"userId"`
}

type Users struct {
	users   *service.UserService
	friends *service.FriendService
	logger  *zap.Logger
}

func NewUsers(users *service.UserService, friends *service.FriendService, logger *zap.Logger) *Users {
	return &Users{users: users, friends: friends, logger: logger}
}

func (h *Users) Profile(c *fiber.Ctx) error {
	user, err := h.users.Get(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, fiber.Map{
		"id":       user.ID,
		"created":  user.CreatedAt.Unix(),
		"name":     user.Name,
		"email":    user.Email,
		"avatar":   user.Avatar,
		"role":     user.Role,
		"otp":      user.OtpEnabled,
		"isOnline": user.IsOnline,
	})
}

func (h *Users) UpdateProfile(c *fiber.Ctx) error {
	input := new(UserUpdateInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	user, err := h.users.UpdateProfile(c.UserContext(), middleware.UserID(c), service.ProfileUpdate{
		Name:     input.Name,
		Email:    input.Email,
		Avatar:   input.Avatar,
		Password: input.Password,
	})
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, user.Profile())
}

// Search lists users matching ?search= by name or email.
func (h *Users) Search(c *fiber.Ctx) error {
	found, err := h.users.Search(c.UserContext(), middleware.UserID(c), c.Query("search"))
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, found)
}

func (h *Users) Friends(c *fiber.Ctx) error {
	friends, err := h.friends.ListFriends(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, friends)
}

func (h *Users) FriendRequests(c *fiber.Ctx) error {
	requests, err := h.friends.ListRequests(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, requests)
}

func (h *Users) SendFriendRequest(c *fiber.Ctx) error {
	input := new(service.RequestTarget)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	recipient, err := h.friends.SendRequest(c.UserContext(), middleware.UserID(c), *input)
	if err != nil {
		return failure(c, h.logger, err)
	}
	return created(c, recipient)
}

func (h *Users) AcceptFriendRequest(c *fiber.Ctx) error {
	input := new(FriendResponseInput)
	if err := c.BodyParser(input); err != nil || input.UserID == "" {
		return reviewInput(c)
	}

	if err := h.friends.AcceptRequest(c.UserContext(), middleware.UserID(c), input.UserID); err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, nil)
}

func (h *Users) RejectFriendRequest(c *fiber.Ctx) error {
	input := new(FriendResponseInput)
	if err := c.BodyParser(input); err != nil || input.UserID == "" {
		return reviewInput(c)
	}

	if err := h.friends.RejectRequest(c.UserContext(), middleware.UserID(c), input.UserID); err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, nil)
}
