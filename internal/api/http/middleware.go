package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weatherapp/internal/repo"
)

const (
	localUser  = "user"
	localToken = "token"
)

// bearerToken reads the session token from the Authorization header, or from the
// access_token query parameter for clients such as EventSource that cannot set headers.
func bearerToken(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return c.Query("access_token")
}

func requireAuth(a Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		u, err := a.Authenticate(c.UserContext(), token)
		if err != nil {
			return toHTTPError(err)
		}
		c.Locals(localUser, u)
		c.Locals(localToken, token)
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) repo.User {
	u, _ := c.Locals(localUser).(repo.User)
	return u
}

func currentToken(c *fiber.Ctx) string {
	t, _ := c.Locals(localToken).(string)
	return t
}
