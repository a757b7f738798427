package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mediconnect/backend/auth"
	"github.com/mediconnect/backend/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Locals keys set by Authenticate.
const (
	LocalIdentity = "identity"
	LocalClaims   = "claims"
	LocalUserID   = "userID"
	LocalRole     = "role"
	LocalEmail    = "email"
	LocalToken    = "token"
)

// TokenCookie is the cookie checked after the headers.
const TokenCookie = "token"

type Verifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// Authenticate resolves the bearer token into an identity. The token is
// taken from the Authorization header, then x-auth-token, then the token
// cookie.
func Authenticate(verifier Verifier, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ExtractToken(c)
		if token == "" {
			return fail(c, fiber.StatusUnauthorized, auth.CodeNoToken, "Not authorized, no token provided")
		}

		claims, err := verifier.Verify(c.UserContext(), token)
		if err != nil {
			var te *auth.TokenError
			if errors.As(err, &te) {
				logger.Debug("token rejected",
					zap.String("path", c.Path()),
					zap.String("code", te.Code),
					zap.Error(err))
				return fail(c, fiber.StatusUnauthorized, te.Code, te.Message)
			}
			logger.Error("token verification failed", zap.Error(err))
			return fail(c, fiber.StatusUnauthorized, auth.CodeInvalidToken, "Invalid token")
		}

		c.Locals(LocalIdentity, claims.User)
		c.Locals(LocalClaims, claims)
		c.Locals(LocalUserID, claims.User.ID)
		c.Locals(LocalRole, string(claims.User.Role))
		c.Locals(LocalEmail, claims.User.Email)
		c.Locals(LocalToken, token)
		return c.Next()
	}
}

func ExtractToken(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	if t := c.Get("x-auth-token"); t != "" {
		return strings.TrimSpace(t)
	}
	return c.Cookies(TokenCookie)
}

// IdentityFrom returns the caller set by Authenticate.
func IdentityFrom(c *fiber.Ctx) (auth.Identity, bool) {
	id, ok := c.Locals(LocalIdentity).(auth.Identity)
	return id, ok
}

func ClaimsFrom(c *fiber.Ctx) (*auth.Claims, bool) {
	claims, ok := c.Locals(LocalClaims).(*auth.Claims)
	return claims, ok
}

// RequireRole rejects callers that hold none of roles. It must run after
// Authenticate.
func RequireRole(roles ...models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, ok := IdentityFrom(c)
		if !ok {
			return fail(c, fiber.StatusUnauthorized, auth.CodeNoToken, "Not authorized, no token provided")
		}
		if !auth.IsRole(caller, roles...) {
			return fail(c, fiber.StatusForbidden, "FORBIDDEN",
				"User role "+string(caller.Role)+" is not authorized to access this route")
		}
		return c.Next()
	}
}

func fail(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
