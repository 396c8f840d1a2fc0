package ratelimit

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow_RefillsOverTime(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2})
	defer rl.Stop()

	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("user:a"))
	assert.True(t, rl.Allow("user:a"))
	assert.False(t, rl.Allow("user:a"))
	assert.True(t, rl.Allow("user:b"), "buckets are per key")

	now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("user:a"))
	assert.False(t, rl.Allow("user:a"))
}

func TestEvictIdle(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 5})
	defer rl.Stop()

	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	rl.Allow("user:a")

	now = now.Add(11 * time.Minute)
	rl.evictIdle()
	assert.Empty(t, rl.buckets)
}

func TestMiddleware_KeysByUser(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1})
	defer rl.Stop()

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Post("/chat", func(c *fiber.Ctx) error { return c.SendString("ok") })

	do := func(user string) int {
		req := httptest.NewRequest("POST", "/chat", strings.NewReader(`{"user":"`+user+`","prompt":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, do("alice"))
	assert.Equal(t, fiber.StatusTooManyRequests, do("alice"))
	assert.Equal(t, fiber.StatusOK, do("bob"))
}

func TestKey_HeaderWins(t *testing.T) {
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error { return c.SendString(Key(c)) })

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"user":"alice"}`))
	req.Header.Set("X-User-ID", "svc")
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "user:svc", string(body))
}
