package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := NewRetryPolicy()

	tests := []struct {
		name       string
		attempt    int
		statusCode int
		err        error
		want       bool
	}{
		{"server error on first attempt", 0, http.StatusServiceUnavailable, errors.New("503"), true},
		{"network error", 1, 0, errors.New("connection reset"), true},
		{"last attempt", 2, http.StatusServiceUnavailable, errors.New("503"), false},
		{"not found", 0, http.StatusNotFound, errors.New("404"), false},
		{"bad request", 0, http.StatusBadRequest, errors.New("400"), false},
		{"forbidden is retried after session reset", 0, http.StatusForbidden, errors.New("403"), true},
		{"cancelled", 0, 0, context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldRetry(tt.attempt, tt.statusCode, tt.err))
		})
	}
}

func TestRetryPolicy_CalculateBackoff(t *testing.T) {
	p := NewRetryPolicy()
	p.random = func() float64 { return 0.5 }

	assert.Equal(t, 2*time.Second, p.CalculateBackoff(1))
	assert.Equal(t, 4*time.Second, p.CalculateBackoff(2))

	p.random = func() float64 { return 1.0 }
	assert.Equal(t, 2500*time.Millisecond, p.CalculateBackoff(1))

	p.random = func() float64 { return 0.0 }
	assert.Equal(t, 1500*time.Millisecond, p.CalculateBackoff(1))
}

func TestRetryPolicy_BackoffFloor(t *testing.T) {
	p := NewRetryPolicy()
	p.Unit = time.Millisecond
	p.random = func() float64 { return 0.0 }

	assert.Equal(t, p.Floor, p.CalculateBackoff(1))
}

func TestStatusError(t *testing.T) {
	err := &StatusError{StatusCode: http.StatusForbidden, URL: "https://example.com/x"}
	assert.True(t, err.IsAccessDenied())
	assert.Contains(t, err.Error(), "403")

	err = &StatusError{StatusCode: http.StatusBadGateway}
	assert.False(t, err.IsAccessDenied())
}
