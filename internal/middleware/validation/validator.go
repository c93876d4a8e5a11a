package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const localsKey = "validated_body"

// Validator converts a raw request body into its checked form T.
type Validator[T any] interface {
	Validate() (T, error)
}

// Body parses the JSON body into R, validates it and stores the result for
// Validated. A body that does not decode is a 400; one that decodes but
// fails validation is a 422.
func Body[R Validator[T], T any](log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if ct := c.Get(fiber.HeaderContentType); !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		var raw R
		if err := c.BodyParser(&raw); err != nil {
			log.Warn("Failed to parse request body", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		checked, err := raw.Validate()
		if err != nil {
			log.Warn("Invalid request", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		c.Locals(localsKey, checked)
		return c.Next()
	}
}

// Validated returns the value stored by Body.
func Validated[T any](c *fiber.Ctx) (T, bool) {
	v, ok := c.Locals(localsKey).(T)
	return v, ok
}
