package router

import (
	"realtalk-service/config"
	"realtalk-service/controller"
	"realtalk-service/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

type Controllers struct {
	Auth     *controller.Auth
	Users    *controller.Users
	Chats    *controller.Chats
	Messages *controller.Messages
	Admin    *controller.Admin
}

func Rest(app *fiber.App, settings *config.Settings, h Controllers, enforcer middleware.Enforcer, log *zap.Logger) {
	api := app.Group("/v1", logger.New(), middleware.Timeout(settings.RequestTimeout))

	// Auth
	auth := api.Group("/auth")
	auth.Post("/signup", h.Auth.Signup)
	auth.Post("/signin", h.Auth.Signin)
	auth.Post("/token/renew", h.Auth.TokenRenew)
	auth.Post("/2fa/secret", middleware.JWT(), middleware.OTP(), h.Auth.OtpSecret)
	auth.Post("/2fa/verify", middleware.JWT(), middleware.OTP(), h.Auth.OtpVerify)
	auth.Post("/2fa/validate", middleware.JWT(), h.Auth.OtpValidate)
	auth.Post("/2fa/disable", middleware.JWT(), middleware.OTP(), h.Auth.OtpDisable)

	// User
	users := api.Group("/users", middleware.JWT(), middleware.OTP())
	users.Get("/", h.Users.Search)
	users.Get("/profile", h.Users.Profile)
	users.Put("/profile", h.Users.UpdateProfile)
	users.Get("/friends", h.Users.Friends)
	users.Get("/friend-requests", h.Users.FriendRequests)
	users.Post("/friend-request", h.Users.SendFriendRequest)
	users.Post("/accept-request", h.Users.AcceptFriendRequest)
	users.Post("/reject-request", h.Users.RejectFriendRequest)

	// Chat
	chats := api.Group("/chats", middleware.JWT(), middleware.OTP())
	chats.Post("/", h.Chats.Access)
	chats.Get("/", h.Chats.List)
	chats.Post("/group", h.Chats.CreateGroup)
	chats.Put("/group/rename", h.Chats.RenameGroup)
	chats.Put("/group/add", h.Chats.AddToGroup)
	chats.Put("/group/remove", h.Chats.RemoveFromGroup)

	// Message
	messages := api.Group("/messages", middleware.JWT(), middleware.OTP())
	messages.Post("/", h.Messages.Send)
	messages.Get("/:chatId", h.Messages.List)
	messages.Put("/read/:chatId", h.Messages.MarkRead)

	// Admin
	admin := api.Group("/admin", middleware.JWT(), middleware.OTP(), middleware.RBAC(enforcer, log))
	admin.Get("/presence", h.Admin.Presence)
}
