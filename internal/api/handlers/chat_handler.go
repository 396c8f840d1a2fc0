package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/orgai/backend/internal/classifier"
	"github.com/orgai/backend/internal/metrics"
	"github.com/orgai/backend/internal/middleware/validation"
	"github.com/orgai/backend/internal/query"
	"github.com/orgai/backend/pkg/apperr"
	"github.com/orgai/backend/pkg/logger"
	"github.com/orgai/backend/pkg/utils"
)

// ChatService is the part of query.Engine the transport needs.
type ChatService interface {
	Chat(ctx context.Context, req query.ChatRequest) (*query.ChatResponse, error)
	Clear(ctx context.Context, user string) error
}

type ChatHandler struct {
	service              ChatService
	compressionThreshold int
	maxPromptLength      int
}

func NewChatHandler(service ChatService, compressionThreshold, maxPromptLength int) *ChatHandler {
	return &ChatHandler{
		service:              service,
		compressionThreshold: compressionThreshold,
		maxPromptLength:      maxPromptLength,
	}
}

// ChatResponse is the /chat body. Response is base64 gzip when Compressed.
type ChatResponse struct {
	Response   string `json:"response"`
	Context    string `json:"context"`
	Compressed bool   `json:"compressed"`
	Encoding   string `json:"encoding"`
	Category   string `json:"category"`
	Queue      int64  `json:"queue"`
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	in, err := validation.Chat(c, h.maxPromptLength)
	if err != nil {
		return writeError(c, err)
	}

	resp, err := h.service.Chat(c.UserContext(), query.ChatRequest{
		User:   in.User,
		Prompt: in.Prompt,
		Mode:   in.Mode,
	})
	if err != nil {
		return writeError(c, err)
	}

	body, err := h.encode(resp)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(body)
}

func (h *ChatHandler) encode(resp *query.ChatResponse) (*ChatResponse, error) {
	enc, err := utils.EncodeResponse(resp.Response, h.compressionThreshold)
	if err != nil {
		return nil, err
	}
	if enc.Compressed {
		metrics.ResponsesCompressed.Inc()
	}
	return &ChatResponse{
		Response:   enc.Text,
		Context:    resp.Context,
		Compressed: enc.Compressed,
		Encoding:   enc.Encoding,
		Category:   string(resp.Category),
		Queue:      resp.Queue,
	}, nil
}

func (h *ChatHandler) HandleClear(c *fiber.Ctx) error {
	user, err := validation.ClearUser(c)
	if err != nil {
		return writeError(c, err)
	}

	if err := h.service.Clear(c.UserContext(), user); err != nil {
		return writeError(c, err)
	}

	logger.Info("Conversation cleared", zap.String("user", user))
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Conversation history cleared for " + user,
	})
}

func HandleModes(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"modes": classifier.Modes(),
	})
}

func HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func writeError(c *fiber.Ctx, err error) error {
	status, body := errorBody(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", c.Path()),
			zap.String("kind", apperr.KindOf(err).String()),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(body)
}

// errorBody is the client-facing error for err. Server errors of unknown
// kind never expose their text.
func errorBody(err error) (int, fiber.Map) {
	status := apperr.HTTPStatus(err)
	message := err.Error()
	if status >= fiber.StatusInternalServerError && apperr.KindOf(err) == apperr.KindUnknown {
		message = "Failed to process chat"
	}
	return status, fiber.Map{
		"error":     message,
		"kind":      apperr.KindOf(err).String(),
		"retryable": apperr.IsRetryable(err),
	}
}
