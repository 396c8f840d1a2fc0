package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := Query("execute statement", errors.New("deadlock"))
	wrapped := fmt.Errorf("failed to run data query: %w", base)

	assert.Equal(t, KindQuery, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindQuery))
	assert.False(t, IsKind(wrapped, KindSafety))
	assert.True(t, errors.Is(wrapped, &Error{Kind: KindQuery}))
	assert.Equal(t, "execute statement: deadlock", base.Error())
}

func TestSafety_MessageIsReason(t *testing.T) {
	err := Safety("forbidden operation: DROP")
	assert.Equal(t, "forbidden operation: DROP", err.Error())
	assert.False(t, IsRetryable(err))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", Invalid("decode body", errors.New("bad json")), http.StatusBadRequest},
		{"upstream timeout", Upstream("llm", errors.New("deadline"), true), http.StatusGatewayTimeout},
		{"upstream status", Upstream("llm", errors.New("500"), false), http.StatusBadGateway},
		{"connection", Connection("policy source", errors.New("refused")), http.StatusServiceUnavailable},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "safety_violation", KindSafety.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
