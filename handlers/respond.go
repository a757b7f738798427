package handlers

import (
	"reflect"

	"github.com/gofiber/fiber/v2"
	"github.com/mediconnect/backend/auth"
	"github.com/mediconnect/backend/middleware"
	"github.com/mediconnect/backend/services"
)

// Response is the success envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Count   *int        `json:"count,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respond(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(Response{Success: true, Data: data})
}

// respondList adds the item count to the envelope.
func respondList(c *fiber.Ctx, data interface{}) error {
	n := 0
	if v := reflect.ValueOf(data); v.Kind() == reflect.Slice {
		n = v.Len()
	}
	return c.JSON(Response{Success: true, Data: data, Count: &n})
}

func respondMessage(c *fiber.Ctx, message string) error {
	return c.JSON(Response{Success: true, Message: message})
}

// caller returns the authenticated identity or an unauthorized error.
func caller(c *fiber.Ctx) (auth.Identity, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return auth.Identity{}, &services.Error{
			Kind:    services.KindUnauthorized,
			Code:    auth.CodeNoToken,
			Message: "Not authorized, no token provided",
		}
	}
	return id, nil
}
