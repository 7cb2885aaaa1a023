package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		status int
		code   ErrorCode
	}{
		{"validation", Validation("bad severity", nil), http.StatusBadRequest, CodeValidation},
		{"conflict", Conflict("", nil), http.StatusConflict, CodeConflict},
		{"transition", InvalidStateTransition("order", "shipped", "pending"), http.StatusConflict, CodeInvalidStateTransition},
		{"refill", RefillExhausted(), http.StatusUnprocessableEntity, CodeRefillExhausted},
		{"not found", NotFound("prescription", nil), http.StatusNotFound, CodeNotFound},
		{"unauthorized", Unauthorized(nil), http.StatusUnauthorized, CodeUnauthorized},
		{"forbidden", Forbidden(""), http.StatusForbidden, CodeForbidden},
		{"rate limited", RateLimited(), http.StatusTooManyRequests, CodeRateLimited},
		{"too large", PayloadTooLarge(1024), http.StatusRequestEntityTooLarge, CodePayloadTooLarge},
		{"timeout", Timeout(nil), http.StatusGatewayTimeout, CodeTimeout},
		{"internal", Internal(fmt.Errorf("boom")), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode())
			assert.Equal(t, tt.code, tt.err.Code)
		})
	}
}

func TestConflictDefaultMessage(t *testing.T) {
	assert.Equal(t, "already processed", Conflict("", nil).Message)
}

func TestIsFollowsWrapping(t *testing.T) {
	wrapped := fmt.Errorf("failed to request refill: %w", RefillExhausted())

	assert.True(t, Is(wrapped, CodeRefillExhausted))
	assert.False(t, Is(wrapped, CodeConflict))
	assert.False(t, Is(fmt.Errorf("plain"), CodeConflict))

	appErr, ok := As(wrapped)
	assert.True(t, ok)
	assert.Contains(t, appErr.Message, "new consultation")
}

func TestErrorIncludesCause(t *testing.T) {
	err := NotFound("order", fmt.Errorf("sql: no rows in result set"))
	assert.Equal(t, "order not found: sql: no rows in result set", err.Error())
	assert.Equal(t, "order not found", err.Message)
}
