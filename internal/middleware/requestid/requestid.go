package requestid

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	Header    = "X-Request-ID"
	localsKey = "request_id"
)

// Middleware accepts the caller's request id or assigns a new one, and
// echoes it on the response.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(Header)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Locals(localsKey, id)
		c.Set(Header, id)
		return c.Next()
	}
}

func Get(c *fiber.Ctx) string {
	id, _ := c.Locals(localsKey).(string)
	return id
}
