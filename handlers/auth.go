package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/mediconnect/backend/auth"
	"github.com/mediconnect/backend/middleware"
	"github.com/mediconnect/backend/services"
	"go.uber.org/zap"
)

// Revoker blocks a verified token for the rest of its lifetime.
type Revoker interface {
	Revoke(ctx context.Context, claims *auth.Claims) error
}

type AuthHandler struct {
	users   *services.UserService
	revoker Revoker
	logger  *zap.Logger
}

func NewAuthHandler(users *services.UserService, revoker Revoker, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, revoker: revoker, logger: logger}
}

// Me returns the caller's user record.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	u, err := h.users.Me(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, u)
}

// Verify echoes the identity carried by a valid token.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	data := fiber.Map{"user": id}
	if claims, ok := middleware.ClaimsFrom(c); ok && claims.ExpiresAt != nil {
		data["expiresAt"] = claims.ExpiresAt.Time
	}
	return respond(c, fiber.StatusOK, data)
}

// Logout revokes the presented token and clears the token cookie.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return respondError(c, h.logger, &services.Error{
			Kind:    services.KindUnauthorized,
			Code:    auth.CodeNoToken,
			Message: "Not authorized, no token provided",
		})
	}
	if err := h.revoker.Revoke(c.UserContext(), claims); err != nil {
		return respondError(c, h.logger, services.Internal(err, "failed to revoke token"))
	}
	c.ClearCookie(middleware.TokenCookie)
	h.logger.Info("user logged out",
		zap.String("user_id", claims.User.ID),
		zap.String("jti", claims.ID))
	return respondMessage(c, "Logged out successfully")
}
