package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/scoutman/internal/provider"
	"github.com/allaspectsdev/scoutman/internal/tracing"
	"github.com/allaspectsdev/scoutman/internal/version"
)

// MaxErrorBodySize bounds how much of an error response is kept.
const MaxErrorBodySize = 4096

// Client sends JSON requests to provider APIs over a shared, pooled
// http.Client. Per-call deadlines come from the caller's context.
type Client struct {
	http   *http.Client
	retry  RetryConfig
	logger zerolog.Logger
}

// NewClient creates a Client with connection pooling and the given retry
// policy. A zero RetryConfig disables retries.
func NewClient(retry RetryConfig) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		http:   &http.Client{Transport: transport},
		retry:  retry,
		logger: log.Logger,
	}
}

// WithLogger returns a copy of the client that logs to l.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	cp := *c
	cp.logger = l
	return &cp
}

// Request describes one provider call.
type Request struct {
	Provider string
	Method   string
	URL      string
	Query    url.Values
	Headers  map[string]string
	// Body is JSON-encoded when non-nil.
	Body any
}

// Do sends req and decodes a 2xx JSON response into out. Every failure is
// returned as a *provider.Error. Transient failures are retried according to
// the client's RetryConfig.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return provider.NewError(req.Provider, provider.KindConfig, fmt.Errorf("encoding request: %w", err))
		}
		payload = b
	}

	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr *provider.Error
	var wait time.Duration
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, c.retry.BaseDelay, c.retry.MaxDelay)
			if wait > 0 {
				delay = wait
				if c.retry.MaxDelay > 0 && delay > c.retry.MaxDelay {
					delay = c.retry.MaxDelay
				}
			}
			if err := sleepWithContext(ctx, delay); err != nil {
				return provider.Classify(req.Provider, err)
			}
		}

		lastErr, wait = c.once(ctx, req, target, payload, out)
		if lastErr == nil {
			return nil
		}
		if !lastErr.Retryable() || ctx.Err() != nil {
			return lastErr
		}
		if attempt+1 < attempts {
			c.logger.Debug().
				Str("provider", req.Provider).
				Str("kind", string(lastErr.Kind)).
				Int("attempt", attempt+1).
				Msg("transient upstream error, retrying")
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, req Request, target string, payload []byte, out any) (*provider.Error, time.Duration) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	ctx, span := tracing.StartUpstreamSpan(ctx, method, req.URL, req.Provider)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return provider.NewError(req.Provider, provider.KindConfig, fmt.Errorf("creating request: %w", err)), 0
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	tracing.InjectHeaders(ctx, httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		tracing.RecordError(ctx, err)
		return provider.Classify(req.Provider, err), 0
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pe := provider.StatusError(req.Provider, resp.StatusCode, readLimitedBody(resp.Body))
		tracing.RecordError(ctx, pe)
		return pe, retryAfterDuration(resp.Header)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, 0
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		pe := provider.NewError(req.Provider, provider.KindMalformed, fmt.Errorf("decoding response: %w", err))
		tracing.RecordError(ctx, pe)
		return pe, 0
	}
	return nil, 0
}

// readLimitedBody reads at most MaxErrorBodySize bytes for diagnostics.
func readLimitedBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, MaxErrorBodySize))
	return strings.TrimSpace(string(b))
}
