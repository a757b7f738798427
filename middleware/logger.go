package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const HeaderRequestID = "X-Request-ID"

// RequestLogger tags each request with an id and logs it on completion.
func RequestLogger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := c.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(HeaderRequestID, requestID)
		c.Locals("requestID", requestID)

		err := c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("ip", c.IP()),
			zap.Duration("duration", time.Since(start)),
			zap.Int("status", c.Response().StatusCode()),
		}
		if userID, ok := c.Locals(LocalUserID).(string); ok {
			fields = append(fields, zap.String("user_id", userID))
		}
		logger.Info("request completed", fields...)
		return err
	}
}

// SecurityHeaders sets the content security policy and related headers.
func SecurityHeaders(connectSrc string) fiber.Handler {
	csp := "default-src 'self'; " +
		"connect-src 'self' " + connectSrc + "; " +
		"img-src 'self' data:; " +
		"script-src 'self'; " +
		"style-src 'self' 'unsafe-inline'"
	return func(c *fiber.Ctx) error {
		c.Set("Content-Security-Policy", csp)
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		return c.Next()
	}
}
