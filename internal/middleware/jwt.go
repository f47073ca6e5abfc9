package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/paymentwall/internal/auth"
)

const userIDLocal = "user_id"

// JWTAuth returns a middleware that validates bearer access tokens and exposes
// the authenticated user id to handlers.
func JWTAuth(tokens *auth.Tokens) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals(userIDLocal, claims.UserID())
		return c.Next()
	}
}

// UserID returns the authenticated user id, or "" outside JWTAuth.
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(userIDLocal).(string)
	return uid
}
