package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/orgai/backend/internal/middleware/ratelimit"
	"github.com/orgai/backend/internal/middleware/validation"
	"github.com/orgai/backend/internal/query"
	"github.com/orgai/backend/pkg/apperr"
	"github.com/orgai/backend/pkg/logger"
)

// Limiter admits or rejects a chat message for a rate limit key.
type Limiter interface {
	Allow(key string) bool
}

type WebSocketHandler struct {
	chat    *ChatHandler
	limiter Limiter
}

// NewWebSocketHandler serves chat over websocket. A nil limiter admits
// every message.
func NewWebSocketHandler(chat *ChatHandler, limiter Limiter) *WebSocketHandler {
	return &WebSocketHandler{
		chat:    chat,
		limiter: limiter,
	}
}

// HandleConnection serves {"type":"chat", user, prompt, mode} messages,
// answering each with a "status" frame and then a "complete" or "error"
// frame. Other message types are ignored. A chat in flight is cancelled
// when the client disconnects.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	messages := make(chan []byte)
	defer func() {
		cancel()
		c.Close()
		// The connection is recycled on return, so wait for the reader.
		for range messages {
		}
		logger.Info("WebSocket connection closed")
	}()

	go func() {
		defer close(messages)
		defer cancel()
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warn("Failed to read WebSocket message", zap.Error(err))
				}
				return
			}
			select {
			case messages <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for data := range messages {
		if err := h.handleMessage(ctx, c, data); err != nil {
			logger.Warn("Failed to write WebSocket frame", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *websocket.Conn, data []byte) error {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return h.sendError(c, apperr.Invalid("", err))
	}
	if msg.Type != "chat" {
		return nil
	}
	return h.handleChat(ctx, c, data)
}

func (h *WebSocketHandler) handleChat(ctx context.Context, c *websocket.Conn, data []byte) error {
	in, err := validation.ParseChat(data, h.chat.maxPromptLength)
	if err != nil {
		return h.sendError(c, err)
	}

	if h.limiter != nil && !h.limiter.Allow(ratelimit.UserKey(in.User)) {
		logger.Warn("Rate limit exceeded", zap.String("user", in.User), zap.String("path", "/ws/chat"))
		return c.WriteJSON(map[string]interface{}{
			"type":      "error",
			"error":     "Rate limit exceeded. Please try again later.",
			"kind":      "rate_limited",
			"retryable": true,
		})
	}

	if err := c.WriteJSON(map[string]interface{}{
		"type":    "status",
		"content": "Processing query...",
	}); err != nil {
		return err
	}

	resp, err := h.chat.service.Chat(ctx, query.ChatRequest{
		User:   in.User,
		Prompt: in.Prompt,
		Mode:   in.Mode,
	})
	if err != nil {
		return h.sendError(c, err)
	}

	body, err := h.chat.encode(resp)
	if err != nil {
		return h.sendError(c, err)
	}

	return c.WriteJSON(map[string]interface{}{
		"type":       "complete",
		"message_id": resp.ID,
		"response":   body.Response,
		"context":    body.Context,
		"compressed": body.Compressed,
		"encoding":   body.Encoding,
		"category":   body.Category,
		"queue":      body.Queue,
		"latency_ms": resp.LatencyMS,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, err error) error {
	status, body := errorBody(err)
	if status >= 500 {
		logger.Error("WebSocket chat failed",
			zap.String("kind", apperr.KindOf(err).String()),
			zap.Error(err),
		)
	}
	frame := map[string]interface{}{"type": "error"}
	for k, v := range body {
		frame[k] = v
	}
	return c.WriteJSON(frame)
}
