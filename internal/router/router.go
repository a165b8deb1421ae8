package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/scoutman/internal/provider"
)

// ErrAllFailed is the error text reported when every eligible provider failed.
const ErrAllFailed = "all providers failed"

// ErrNoProvider is returned by New when no provider is given.
var ErrNoProvider = errors.New("router: no providers configured")

const (
	// DefaultCooldown is how long a disabled provider waits before a trial.
	DefaultCooldown = 5 * time.Minute
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 60 * time.Second
)

// Option configures a Router.
type Option func(*Router)

// WithCooldown sets the re-enable window for disabled providers.
func WithCooldown(d time.Duration) Option {
	return func(r *Router) { r.cooldown = d }
}

// WithTimeout sets the per-call timeout for providers that do not set one.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithTokenCounter enables context-window budgeting.
func WithTokenCounter(c TokenCounter) Option {
	return func(r *Router) { r.counter = c }
}

// WithRateLimiter skips providers that are over their request rate.
func WithRateLimiter(rl *provider.RateLimiter) Option {
	return func(r *Router) { r.limiter = rl }
}

// WithObserver receives an event for every provider attempt.
func WithObserver(o provider.Observer) Option {
	return func(r *Router) { r.observer = o }
}

// WithLogger replaces the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithClock overrides the health table's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// Router picks the best available generation provider for each request and
// falls back through the rest in priority order when a call fails.
type Router struct {
	providers map[string]*Provider
	table     *provider.Table

	cooldown time.Duration
	timeout  time.Duration
	counter  TokenCounter
	limiter  *provider.RateLimiter
	observer provider.Observer
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Router over the given providers. Registration order is the
// final tie-break between providers of equal priority and failure count.
func New(providers []Provider, opts ...Option) (*Router, error) {
	if len(providers) == 0 {
		return nil, ErrNoProvider
	}

	r := &Router{
		providers: make(map[string]*Provider, len(providers)),
		cooldown:  DefaultCooldown,
		timeout:   DefaultTimeout,
		logger:    log.Logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.table = provider.NewTable(provider.WithClock(r.now))

	for i := range providers {
		p := providers[i]
		err := r.table.Register(provider.Spec{
			Name:        p.Name,
			Priority:    p.Priority,
			MaxFailures: p.MaxFailures,
			Configured:  p.Client != nil,
		})
		if err != nil {
			return nil, fmt.Errorf("router: %w", err)
		}
		r.providers[p.Name] = &p
		if p.Client == nil {
			r.logger.Warn().Str("provider", p.Name).Msg("generation provider has no client; it will never be selected")
		}
	}
	return r, nil
}

// SelectProvider returns the eligible provider with the lowest
// (priority, consecutive failures). Disabled providers past their cooldown
// are re-enabled first. When nothing is eligible all failure counters are
// reset and selection is retried once. It returns false only when no
// provider has a configured client.
func (r *Router) SelectProvider() (string, bool) {
	return r.selectNext(nil, true)
}

func (r *Router) selectNext(tried map[string]bool, allowReset bool) (string, bool) {
	for _, name := range r.table.Reenable(r.cooldown) {
		r.logger.Info().Str("provider", name).Msg("cooldown elapsed; provider re-enabled for trial")
	}

	if c := r.table.Candidates(tried); len(c) > 0 {
		return c[0].Name, true
	}
	if !allowReset || !r.table.AnyConfigured() {
		return "", false
	}

	r.logger.Warn().Msg("no eligible generation provider; resetting all failure counters")
	r.table.ResetAll()
	if c := r.table.Candidates(tried); len(c) > 0 {
		return c[0].Name, true
	}
	return "", false
}

// Generate runs the request against the best provider and falls through the
// remaining eligible providers on failure. Each provider is tried at most
// once per call. It never returns an error: exhaustion is reported as a
// Response with Success false.
func (r *Router) Generate(ctx context.Context, req Request) Response {
	digest := provider.Digest(req.Prompt)
	tried := make(map[string]bool, len(r.providers))
	resp := Response{}

	for i := 0; i < len(r.providers); i++ {
		if ctx.Err() != nil {
			break
		}
		name, ok := r.selectNext(tried, i == 0)
		if !ok {
			break
		}
		tried[name] = true
		p := r.providers[name]

		if !r.limiter.Allow(name) {
			resp.Attempts = append(resp.Attempts, Attempt{Provider: name, Skipped: true, ErrorKind: string(provider.KindRateLimited)})
			r.emit(provider.Event{Provider: name, Skipped: true, ErrorKind: provider.KindRateLimited, Digest: digest})
			r.logger.Debug().Str("provider", name).Str("digest", digest).Msg("provider rate limited; skipping")
			continue
		}

		call, err := p.Limits.apply(req, r.counter)
		if err != nil {
			resp.Attempts = append(resp.Attempts, Attempt{Provider: name, Skipped: true, ErrorKind: string(provider.KindConfig), Error: err.Error()})
			r.emit(provider.Event{Provider: name, Skipped: true, ErrorKind: provider.KindConfig, Error: err.Error(), Digest: digest})
			r.logger.Debug().Str("provider", name).Str("digest", digest).Err(err).Msg("provider skipped")
			continue
		}

		start := time.Now()
		content, err := r.invoke(ctx, p, call)
		latency := time.Since(start)

		if err == nil {
			r.RecordSuccess(name)
			resp.Success = true
			resp.Content = content
			resp.ProviderUsed = name
			resp.Attempts = append(resp.Attempts, Attempt{Provider: name, Latency: latency})
			r.emit(provider.Event{Provider: name, Success: true, Latency: latency, Digest: digest})
			return resp
		}

		pe := provider.Classify(name, err)
		if ctx.Err() != nil {
			// The caller gave up; that says nothing about the provider.
			resp.Attempts = append(resp.Attempts, Attempt{Provider: name, ErrorKind: string(pe.Kind), Error: pe.Error(), Latency: latency})
			r.logger.Warn().Str("provider", name).Str("digest", digest).Msg("caller deadline reached; abandoning generation")
			break
		}
		health := r.RecordFailure(name, pe)
		resp.Attempts = append(resp.Attempts, Attempt{
			Provider:  name,
			ErrorKind: string(pe.Kind),
			Error:     pe.Error(),
			Latency:   latency,
		})
		r.emit(provider.Event{
			Provider:  name,
			ErrorKind: pe.Kind,
			Error:     pe.Error(),
			Latency:   latency,
			Digest:    digest,
		})
		r.logger.Warn().
			Str("provider", name).
			Str("kind", string(pe.Kind)).
			Str("digest", digest).
			Str("health", health.String()).
			Err(pe).
			Msg("generation provider failed; falling back")
	}

	resp.Error = ErrAllFailed
	r.logger.Error().Str("digest", digest).Int("attempts", len(resp.Attempts)).Msg(ErrAllFailed)
	return resp
}

// invoke calls the provider under a hard timeout. Empty content counts as a
// failure.
func (r *Router) invoke(ctx context.Context, p *Provider, call Call) (string, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	content, err := provider.Invoke(ctx, p.Name, timeout, func(ctx context.Context) (string, error) {
		return p.Client.Generate(ctx, call)
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", provider.NewError(p.Name, provider.KindEmpty, errors.New("empty content"))
	}
	return content, nil
}

// RecordSuccess resets the provider's failure count and marks it healthy.
func (r *Router) RecordSuccess(name string) {
	if err := r.table.RecordSuccess(name); err != nil {
		r.logger.Warn().Err(err).Msg("record success")
	}
}

// RecordFailure counts a failure against the provider and returns its
// resulting health. Reaching the threshold disables the provider.
func (r *Router) RecordFailure(name string, cause error) provider.Health {
	h, err := r.table.RecordFailure(name, cause)
	if err != nil {
		r.logger.Warn().Err(err).Msg("record failure")
	}
	return h
}

// Reset clears the failure count of one provider.
func (r *Router) Reset(name string) error {
	return r.table.Reset(name)
}

// Providers returns a snapshot of every provider's health.
func (r *Router) Providers() []provider.State {
	return r.table.Snapshot()
}

func (r *Router) emit(ev provider.Event) {
	if r.observer == nil {
		return
	}
	ev.Op = provider.OpGenerate
	if ev.Time.IsZero() {
		ev.Time = r.now()
	}
	if s, ok := r.table.Get(ev.Provider); ok {
		ev.Health = s.Health
	}
	r.observer.Observe(ev)
}
