package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/orgai/backend/internal/classifier"
	"github.com/orgai/backend/pkg/apperr"
)

const (
	DefaultMaxPromptLength = 8000
	MaxUserLength          = 128

	chatLocalsKey  = "chat_input"
	clearLocalsKey = "clear_input"
)

var userPattern = regexp.MustCompile(`^[\w.@-]+$`)

type Config struct {
	MaxPromptLength     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// ChatInput is a validated /chat body.
type ChatInput struct {
	User   string
	Prompt string
	Mode   classifier.Mode
}

type chatBody struct {
	User   string `json:"user"`
	Prompt string `json:"prompt"`
	Mode   string `json:"mode"`
}

// ParseChat decodes and validates a chat body. Errors are KindInvalid.
func ParseChat(body []byte, maxPromptLength int) (ChatInput, error) {
	var req chatBody
	if err := json.Unmarshal(body, &req); err != nil {
		return ChatInput{}, apperr.Invalid("", errors.New("invalid JSON format"))
	}

	user, err := validateUser(req.User)
	if err != nil {
		return ChatInput{}, err
	}

	prompt := sanitizeString(req.Prompt)
	if prompt == "" {
		return ChatInput{}, apperr.Invalid("", errors.New("prompt is required and must be a string"))
	}
	if maxPromptLength <= 0 {
		maxPromptLength = DefaultMaxPromptLength
	}
	if utf8.RuneCountInString(prompt) > maxPromptLength {
		return ChatInput{}, apperr.Invalid("", fmt.Errorf("prompt exceeds maximum length of %d characters", maxPromptLength))
	}

	mode, err := classifier.ParseMode(req.Mode)
	if err != nil {
		return ChatInput{}, apperr.Invalid("", err)
	}

	return ChatInput{User: user, Prompt: prompt, Mode: mode}, nil
}

// ParseClear decodes a /chat/clear body and returns the user.
func ParseClear(body []byte) (string, error) {
	var req chatBody
	if err := json.Unmarshal(body, &req); err != nil {
		return "", apperr.Invalid("", errors.New("invalid JSON format"))
	}
	return validateUser(req.User)
}

func validateUser(user string) (string, error) {
	user = strings.TrimSpace(user)
	switch {
	case user == "":
		return "", apperr.Invalid("", errors.New("user is required and must be a string"))
	case len(user) > MaxUserLength:
		return "", apperr.Invalid("", fmt.Errorf("user exceeds maximum length of %d characters", MaxUserLength))
	case !userPattern.MatchString(user):
		return "", apperr.Invalid("", errors.New("user may only contain letters, digits, '.', '@', '_' and '-'"))
	}
	return user, nil
}

// Middleware validates chat bodies before they reach the handlers and
// stores the parsed input in the request locals.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxPromptLength == 0 {
		cfg.MaxPromptLength = DefaultMaxPromptLength
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		switch c.Path() {
		case "/chat":
			in, err := ParseChat(c.Body(), cfg.MaxPromptLength)
			if err != nil {
				return reject(c, cfg.Logger, err)
			}
			c.Locals(chatLocalsKey, in)
		case "/chat/clear":
			user, err := ParseClear(c.Body())
			if err != nil {
				return reject(c, cfg.Logger, err)
			}
			c.Locals(clearLocalsKey, user)
		}

		return c.Next()
	}
}

func reject(c *fiber.Ctx, logger *zap.Logger, err error) error {
	logger.Warn("Rejected invalid request",
		zap.String("ip", c.IP()),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":     err.Error(),
		"kind":      apperr.KindOf(err).String(),
		"retryable": false,
	})
}

// Chat returns the input validated by Middleware, parsing the body itself
// when the middleware is not installed.
func Chat(c *fiber.Ctx, maxPromptLength int) (ChatInput, error) {
	if in, ok := c.Locals(chatLocalsKey).(ChatInput); ok {
		return in, nil
	}
	return ParseChat(c.Body(), maxPromptLength)
}

// ClearUser is Chat for /chat/clear.
func ClearUser(c *fiber.Ctx) (string, error) {
	if user, ok := c.Locals(clearLocalsKey).(string); ok {
		return user, nil
	}
	return ParseClear(c.Body())
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
