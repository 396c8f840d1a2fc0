package handlers

import (
	"errors"
	"net"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgai/backend/pkg/apperr"
)

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

func dialChat(t *testing.T, svc ChatService, limiter Limiter) *fastws.Conn {
	t.Helper()
	h := NewWebSocketHandler(NewChatHandler(svc, 1000, 8000), limiter)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(h.HandleConnection))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	conn, _, err := fastws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/chat", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *fastws.Conn) map[string]any {
	t.Helper()
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWebSocket_StatusThenComplete(t *testing.T) {
	conn := dialChat(t, &fakeService{reply: "You accrue 1.5 days per month."}, nil)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":   "chat",
		"user":   "alice",
		"prompt": "What is our vacation policy?",
	}))

	status := readFrame(t, conn)
	assert.Equal(t, "status", status["type"])

	complete := readFrame(t, conn)
	assert.Equal(t, "complete", complete["type"])
	assert.Equal(t, "chat-1", complete["message_id"])
	assert.Equal(t, "You accrue 1.5 days per month.", complete["response"])
	assert.Equal(t, "Relevant Policy Documents:", complete["context"])
	assert.Equal(t, false, complete["compressed"])
	assert.Equal(t, "utf-8", complete["encoding"])
	assert.Equal(t, "policy", complete["category"])
	assert.Equal(t, float64(7), complete["queue"])
}

func TestWebSocket_StatusThenError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		message   string
		kind      string
		retryable bool
	}{
		{
			name:      "upstream timeout",
			err:       apperr.Upstream("llm completion", errors.New("timed out"), true),
			message:   "llm completion: timed out",
			kind:      "upstream",
			retryable: true,
		},
		{
			name:    "unknown errors are masked",
			err:     errors.New("sqlite: disk I/O error"),
			message: "Failed to process chat",
			kind:    "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dialChat(t, &fakeService{err: tt.err}, nil)
			require.NoError(t, conn.WriteJSON(map[string]string{
				"type":   "chat",
				"user":   "alice",
				"prompt": "What is our vacation policy?",
			}))

			assert.Equal(t, "status", readFrame(t, conn)["type"])

			frame := readFrame(t, conn)
			assert.Equal(t, "error", frame["type"])
			assert.Equal(t, tt.message, frame["error"])
			assert.Equal(t, tt.kind, frame["kind"])
			assert.Equal(t, tt.retryable, frame["retryable"])
		})
	}
}

func TestWebSocket_InvalidMessage(t *testing.T) {
	conn := dialChat(t, &fakeService{reply: "unused"}, nil)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "chat", "user": "alice", "prompt": "  "}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "invalid_request", frame["kind"])
}

func TestWebSocket_RateLimited(t *testing.T) {
	conn := dialChat(t, &fakeService{reply: "unused"}, denyLimiter{})
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":   "chat",
		"user":   "alice",
		"prompt": "What is our vacation policy?",
	}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "rate_limited", frame["kind"])
	assert.Equal(t, true, frame["retryable"])
}
