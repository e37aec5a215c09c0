package controller

import (
	"realtalk-service/middleware"
	"realtalk-service/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuthLoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthRenewTokenInput struct {
	RefreshToken string `json:"refresh_token"`
}

type AuthOtpSecretInput struct {
	Password string `json:"password"`
}

type AuthOtpTokenInput struct {
	Token string `json:"token"`
}

type AuthOtpDisableInput struct {
	Password string `json:"password"`
	Token    string `json:"token"`
}

type Auth struct {
	identity *service.IdentityService
	logger   *zap.Logger
}

func NewAuth(identity *service.IdentityService, logger *zap.Logger) *Auth {
	return &Auth{identity: identity, logger: logger}
}

func (h *Auth) Signup(c *fiber.Ctx) error {
	input := new(service.SignupInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	user, err := h.identity.Signup(c.UserContext(), *input)
	if err != nil {
		return failure(c, h.logger, err)
	}

	return created(c, fiber.Map{"id": user.ID})
}

func (h *Auth) Signin(c *fiber.Ctx) error {
	input := new(AuthLoginInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	session, err := h.identity.Signin(c.UserContext(), input.Email, input.Password)
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, sessionData(session))
}

func (h *Auth) TokenRenew(c *fiber.Ctx) error {
	input := new(AuthRenewTokenInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	session, err := h.identity.Renew(c.UserContext(), input.RefreshToken)
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, sessionData(session))
}

func (h *Auth) OtpSecret(c *fiber.Ctx) error {
	input := new(AuthOtpSecretInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	secret, url, err := h.identity.OtpSecret(c.UserContext(), middleware.UserID(c), input.Password)
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, fiber.Map{"secret": secret, "url": url})
}

func (h *Auth) OtpVerify(c *fiber.Ctx) error {
	input := new(AuthOtpTokenInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	if err := h.identity.OtpVerify(c.UserContext(), middleware.UserID(c), input.Token); err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, nil)
}

func (h *Auth) OtpValidate(c *fiber.Ctx) error {
	input := new(AuthOtpTokenInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	session, err := h.identity.OtpValidate(c.UserContext(), middleware.UserID(c), input.Token)
	if err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, fiber.Map{
		"access":  session.Tokens.Access,
		"refresh": session.Tokens.Refresh,
	})
}

func (h *Auth) OtpDisable(c *fiber.Ctx) error {
	input := new(AuthOtpDisableInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	if err := h.identity.OtpDisable(c.UserContext(), middleware.UserID(c), input.Password, input.Token); err != nil {
		return failure(c, h.logger, err)
	}
	return success(c, nil)
}

func sessionData(session *service.Session) fiber.Map {
	return fiber.Map{
		"access":  session.Tokens.Access,
		"refresh": session.Tokens.Refresh,
		"2fa":     session.Otp,
	}
}
