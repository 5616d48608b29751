package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDRecordsDeclaredClient(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"role":        ClientRole(c),
			"email":       ClientEmail(c),
			"correlation": CorrelationIDFromContext(c.UserContext()),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	req.Header.Set("X-Client-Role", " Professor ")
	req.Header.Set("X-Client-Email", " Prof@Uni.KZ ")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "abc-123", resp.Header.Get("X-Correlation-ID"))

	var body map[string]string
	require.NoError(t, decodeJSON(resp, &body))
	require.Equal(t, RoleProfessor, body["role"])
	require.Equal(t, "prof@uni.kz", body["email"])
	require.Equal(t, "abc-123", body["correlation"])
}

func TestCorrelationIDDefaults(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(ClientRole(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Client-Role", "superuser")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))

	body := make([]byte, 16)
	n, _ := resp.Body.Read(body)
	require.Equal(t, RoleGuest, string(body[:n]))
}

func TestRateLimitPerRole(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Post("/save", RateLimit("save", 1, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	send := func(role string) int {
		req := httptest.NewRequest(http.MethodPost, "/save", nil)
		req.Header.Set("X-Client-Role", role)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusOK, send("student"))
	require.Equal(t, fiber.StatusTooManyRequests, send("student"))
	require.Equal(t, fiber.StatusOK, send("professor"))
}

func TestRateLimitDisabled(t *testing.T) {
	app := fiber.New()
	app.Post("/save", RateLimit("save", 0, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 5; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/save", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}
