package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{"canceled", context.Canceled, KindCanceled},
		{"plain", errors.New("connection refused"), KindTransport},
		{"structured", StatusError("x", http.StatusBadRequest, ""), KindStatus},
		{"rate limited", StatusError("x", http.StatusTooManyRequests, "slow down"), KindRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("serper", tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
	assert.Nil(t, Classify("x", nil))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestClassify_FillsProvider(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewError("", KindMalformed, errors.New("bad json")))
	pe := Classify("tavily", err)
	assert.Equal(t, "tavily", pe.Provider)
	assert.Equal(t, KindMalformed, pe.Kind)
}

func TestError_Message(t *testing.T) {
	err := StatusError("groq", http.StatusServiceUnavailable, "overloaded")
	assert.Equal(t, "groq: status 503: overloaded", err.Error())
	assert.True(t, err.Retryable())

	assert.False(t, StatusError("groq", http.StatusUnauthorized, "").Retryable())
	assert.True(t, NewError("groq", KindTimeout, context.DeadlineExceeded).Retryable())
	assert.False(t, NewError("groq", KindEmpty, nil).Retryable())
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(map[string]Limit{
		"serper": {Rate: 1, Burst: 2},
		"free":   {Rate: 0},
	})
	rl.now = func() time.Time { return now }
	for _, b := range rl.buckets {
		b.lastRefill = now
	}

	assert.True(t, rl.Allow("serper"))
	assert.True(t, rl.Allow("serper"))
	assert.False(t, rl.Allow("serper"), "burst exhausted")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("serper"), "refilled after one second")

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("free"))
		assert.True(t, rl.Allow("unlisted"))
	}

	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("anything"))
}
