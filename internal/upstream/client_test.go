package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/scoutman/internal/provider"
	"github.com/allaspectsdev/scoutman/internal/version"
)

func newTestClient(retry RetryConfig) *Client {
	return NewClient(retry).WithLogger(zerolog.Nop())
}

func TestDo_PostsJSONAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		assert.Equal(t, version.UserAgent(), r.Header.Get("User-Agent"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "coffee", body["q"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := newTestClient(RetryConfig{}).Do(context.Background(), Request{
		Provider: "serper",
		URL:      srv.URL,
		Headers:  map[string]string{"X-API-KEY": "secret"},
		Body:     map[string]any{"q": "coffee"},
	}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestDo_GetWithQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "cx1", r.URL.Query().Get("cx"))
		assert.Equal(t, "v", r.URL.Query().Get("existing"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	err := newTestClient(RetryConfig{}).Do(context.Background(), Request{
		Provider: "google",
		Method:   http.MethodGet,
		URL:      srv.URL + "?existing=v",
		Query:    url.Values{"cx": {"cx1"}},
	}, nil)
	require.NoError(t, err)
}

func TestDo_StatusErrorIsStructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := newTestClient(RetryConfig{MaxAttempts: 3}).Do(context.Background(), Request{Provider: "groq", URL: srv.URL}, nil)
	var pe *provider.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.KindStatus, pe.Kind)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.Equal(t, "groq", pe.Provider)
	assert.Contains(t, pe.Error(), "invalid api key")
}

func TestDo_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	var out map[string]any
	err := newTestClient(RetryConfig{}).Do(context.Background(), Request{Provider: "exa", URL: srv.URL}, &out)
	assert.Equal(t, provider.KindMalformed, provider.KindOf(err))
}

func TestDo_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out map[string]bool
	err := newTestClient(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}).
		Do(context.Background(), Request{Provider: "tavily", URL: srv.URL}, &out)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.True(t, out["ok"])
}

func TestDo_RetryExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := newTestClient(RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}).
		Do(context.Background(), Request{Provider: "serper", URL: srv.URL}, nil)
	assert.Equal(t, provider.KindRateLimited, provider.KindOf(err))
	assert.Equal(t, int32(2), hits.Load())
}

func TestDo_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := newTestClient(RetryConfig{MaxAttempts: 3}).Do(ctx, Request{Provider: "gemini", URL: srv.URL}, nil)
	assert.Equal(t, provider.KindTimeout, provider.KindOf(err))
}

func TestDo_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := newTestClient(RetryConfig{}).Do(context.Background(), Request{Provider: "exa", URL: addr}, nil)
	assert.Equal(t, provider.KindTransport, provider.KindOf(err))
}
