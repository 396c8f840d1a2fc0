package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/orgai/backend/internal/metrics"
	"github.com/orgai/backend/pkg/apperr"
	"github.com/orgai/backend/pkg/circuitbreaker"
	"github.com/orgai/backend/pkg/logger"
)

// Completer produces a completion for an assembled prompt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

type Config struct {
	// BaseURL of an OpenAI-compatible API, e.g. Ollama's http://host:11434/v1.
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float32
	TopP              float32
	MaxTokens         int
	Timeout           time.Duration
	MinResponseLength int
	HTTPClient        *http.Client
}

type Client struct {
	client *openai.Client
	cfg    Config
	cb     *circuitbreaker.CircuitBreaker
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	TopP         float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Model   string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Logger:           logger.GetLogger(),
	})

	logger.Info("LLM client initialized",
		zap.String("base_url", clientCfg.BaseURL),
		zap.String("model", cfg.Model),
		zap.Duration("timeout", cfg.Timeout),
	)

	return &Client{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		cb:     cb,
	}
}

// Complete sends one non-streaming chat completion. It is not retried:
// every failure is returned as a KindUpstream error, retryable by the
// caller only for timeouts, throttling and server errors.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	topP := req.TopP
	if topP == 0 {
		topP = c.cfg.TopP
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}

	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	start := time.Now()
	var resp openai.ChatCompletionResponse
	err := c.cb.Execute(ctx, func() error {
		var err error
		resp, err = c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.cfg.Model,
			Messages:    messages,
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
			Stream:      false,
		})
		return err
	})
	metrics.LLMDuration.WithLabelValues(c.cfg.Model).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.LLMRequests.WithLabelValues(c.cfg.Model, "error").Inc()
		upstream := classify(ctx, err)
		logger.Error("LLM completion failed",
			zap.String("model", c.cfg.Model),
			zap.Bool("retryable", upstream.Retryable),
			zap.Error(err),
		)
		return nil, upstream
	}

	if len(resp.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues(c.cfg.Model, "empty").Inc()
		return nil, apperr.Upstream("llm completion", errors.New("response contained no choices"), false)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if n := utf8.RuneCountInString(content); n < c.cfg.MinResponseLength || n == 0 {
		metrics.LLMRequests.WithLabelValues(c.cfg.Model, "short").Inc()
		return nil, apperr.Upstream("llm completion",
			fmt.Errorf("response too short: %d characters, need at least %d", n, c.cfg.MinResponseLength), false)
	}

	metrics.LLMRequests.WithLabelValues(c.cfg.Model, "success").Inc()
	metrics.LLMTokensUsed.WithLabelValues(c.cfg.Model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(c.cfg.Model, "completion").Add(float64(resp.Usage.CompletionTokens))
	logger.Debug("LLM completion generated",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return &CompletionResponse{
		Content: content,
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func classify(ctx context.Context, err error) *apperr.Error {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return apperr.Upstream("llm completion", err, true)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperr.Upstream("llm completion", fmt.Errorf("timed out: %w", err), true)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		err = fmt.Errorf("API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		err = fmt.Errorf("API error %d: %w", reqErr.HTTPStatusCode, reqErr.Err)
	}
	retryable := status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	return apperr.Upstream("llm completion", err, retryable)
}
