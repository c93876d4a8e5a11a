package security

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennixue/question-app/internal/middleware/requestid"
)

func TestHeadersAndRequestID(t *testing.T) {
	for _, dev := range []bool{true, false} {
		app := fiber.New()
		app.Use(requestid.Middleware(), HeadersMiddleware(HeadersConfig{IsDevelopment: dev}))
		app.Get("/", func(c *fiber.Ctx) error { return c.SendString(requestid.Get(c)) })

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)

		assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
		assert.Equal(t, !dev, resp.Header.Get("Strict-Transport-Security") != "")
	}

	app := fiber.New()
	app.Use(requestid.Middleware())
	app.Get("/", func(c *fiber.Ctx) error { return nil })
	resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
	require.NoError(t, err)
	assert.Len(t, resp.Header.Get("X-Request-ID"), 36)
}
