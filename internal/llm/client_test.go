package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgai/backend/pkg/apperr"
)

func completionBody(content string) string {
	data, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "qwen2.5-coder:latest",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]string{"role": "assistant", "content": content},
		}},
		"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19},
	})
	return string(data)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:           srv.URL + "/v1",
		APIKey:            "test",
		Model:             "qwen2.5-coder:latest",
		Temperature:       0.2,
		TopP:              0.9,
		Timeout:           timeout,
		MinResponseLength: 10,
	})
}

func TestComplete_Success(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("  Employees accrue 1.5 vacation days per month.  ")))
	}, time.Second)

	resp, err := c.Complete(context.Background(), CompletionRequest{SystemPrompt: "be brief", UserPrompt: "vacation?"})
	require.NoError(t, err)
	assert.Equal(t, "Employees accrue 1.5 vacation days per month.", resp.Content)
	assert.Equal(t, 19, resp.Usage.TotalTokens)

	assert.Equal(t, "qwen2.5-coder:latest", got["model"])
	assert.InDelta(t, 0.9, got["top_p"], 1e-6)
	assert.NotEqual(t, true, got["stream"])
	assert.Len(t, got["messages"], 2)
}

func TestComplete_ShortResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("ok")))
	}, time.Second)

	_, err := c.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUpstream))
	assert.False(t, apperr.IsRetryable(err))
}

func TestComplete_ServerError(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"model crashed","type":"server_error"}}`))
	}, time.Second)

	_, err := c.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUpstream))
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, 1, calls, "completions are never retried automatically")
}

func TestComplete_BadRequestNotRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"model not found","type":"invalid_request_error"}}`))
	}, time.Second)

	_, err := c.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, apperr.HTTPStatus(err))
}

func TestComplete_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	_, err := c.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUpstream))
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, http.StatusGatewayTimeout, apperr.HTTPStatus(err))
}
