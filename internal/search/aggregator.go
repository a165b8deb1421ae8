package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/allaspectsdev/scoutman/internal/cache"
	"github.com/allaspectsdev/scoutman/internal/provider"
)

const (
	// DefaultMaxResults is used when a caller asks for zero results.
	DefaultMaxResults = 10
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 15 * time.Second
	// MaxWorkers caps the fan-out pool.
	MaxWorkers = 8
)

// ErrNoProviders is returned by New when no provider is given.
var ErrNoProviders = errors.New("search: no providers configured")

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWorkers sets the fan-out width. One means providers are called
// sequentially in priority order. Values above MaxWorkers are capped.
func WithWorkers(n int) Option {
	return func(a *Aggregator) {
		if n < 1 {
			n = 1
		}
		if n > MaxWorkers {
			n = MaxWorkers
		}
		a.workers = n
	}
}

// WithTimeout sets the per-call timeout for providers that do not set one.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithCache replaces the fallback result cache.
func WithCache(c *cache.Cache[[]Result]) Option {
	return func(a *Aggregator) { a.cache = c }
}

// WithDefaultMaxResults sets the limit used when a caller passes zero.
func WithDefaultMaxResults(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.defaultMax = n
		}
	}
}

// WithRateLimiter skips providers that are over their request rate.
func WithRateLimiter(rl *provider.RateLimiter) Option {
	return func(a *Aggregator) { a.limiter = rl }
}

// WithObserver receives an event for every provider attempt.
func WithObserver(o provider.Observer) Option {
	return func(a *Aggregator) { a.observer = o }
}

// WithLogger replaces the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// Aggregator fans a query out to several search providers, isolates their
// failures, and merges what comes back into one ranked, deduplicated list.
type Aggregator struct {
	providers map[string]*Provider
	trust     map[string]float64
	table     *provider.Table

	workers    int
	timeout    time.Duration
	defaultMax int
	cache      *cache.Cache[[]Result]
	limiter    *provider.RateLimiter
	observer   provider.Observer
	logger     zerolog.Logger
}

// New creates an Aggregator over the given providers.
func New(providers []Provider, opts ...Option) (*Aggregator, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	a := &Aggregator{
		providers:  make(map[string]*Provider, len(providers)),
		trust:      make(map[string]float64, len(providers)),
		table:      provider.NewTable(),
		workers:    1,
		timeout:    DefaultTimeout,
		defaultMax: DefaultMaxResults,
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cache == nil {
		a.cache = cache.New[[]Result](cache.DefaultSize, cache.DefaultTTL)
	}

	for i := range providers {
		p := providers[i]
		err := a.table.Register(provider.Spec{
			Name:        p.Name,
			Priority:    p.Priority,
			MaxFailures: p.MaxErrors,
			Configured:  p.Client != nil,
		})
		if err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		a.providers[p.Name] = &p
		a.trust[p.Name] = p.Trust
		if p.Client == nil {
			a.logger.Warn().Str("provider", p.Name).Msg("search provider has no client; it will never be called")
		}
	}
	return a, nil
}

// Search queries every eligible provider, in parallel when the aggregator has
// more than one worker, and returns at most maxResults merged results. A
// failing provider contributes nothing. When ctx ends, calls still in flight
// are abandoned and whatever was collected is used. The returned slice is
// never nil.
func (a *Aggregator) Search(ctx context.Context, query string, maxResults int) []Result {
	if maxResults <= 0 {
		maxResults = a.defaultMax
	}
	digest := provider.Digest(query)
	active := a.active(digest)
	if len(active) == 0 {
		a.logger.Warn().Str("digest", digest).Msg("no eligible search providers")
		return []Result{}
	}

	var collected [][]Result
	if a.workers <= 1 {
		collected = a.searchSequential(ctx, active, query, maxResults, digest)
	} else {
		collected = a.searchParallel(ctx, active, query, maxResults, digest)
	}

	var merged []Result
	for _, rs := range collected {
		merged = append(merged, rs...)
	}
	out := rank(dedupe(merged), query, a.trust, maxResults)

	a.logger.Debug().
		Str("digest", digest).
		Int("providers", len(active)).
		Int("results", len(out)).
		Msg("search aggregated")
	return out
}

func (a *Aggregator) searchSequential(ctx context.Context, active []*Provider, query string, maxResults int, digest string) [][]Result {
	slots := make([][]Result, len(active))
	for i, p := range active {
		if ctx.Err() != nil {
			a.logger.Warn().Str("digest", digest).Int("skipped", len(active)-i).Msg("caller deadline reached; using collected results")
			break
		}
		slots[i] = a.call(ctx, p, query, maxResults, digest)
	}
	return slots
}

// searchParallel writes each provider's results into the slot matching its
// priority position, so the merge order does not depend on which call
// returned first.
func (a *Aggregator) searchParallel(ctx context.Context, active []*Provider, query string, maxResults int, digest string) [][]Result {
	var mu sync.Mutex
	slots := make([][]Result, len(active))
	done := make(chan struct{})

	p := pool.New().WithMaxGoroutines(a.workers)
	go func() {
		defer close(done)
		for i, prov := range active {
			p.Go(func() {
				if ctx.Err() != nil {
					return
				}
				rs := a.call(ctx, prov, query, maxResults, digest)
				mu.Lock()
				slots[i] = rs
				mu.Unlock()
			})
		}
		p.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn().Str("digest", digest).Msg("caller deadline reached; abandoning in-flight search calls")
	}

	mu.Lock()
	defer mu.Unlock()
	return slices.Clone(slots)
}

// SearchWithFallback tries providers strictly in priority order and returns
// the ranked results of the first one that yields anything. Non-empty
// answers are cached per (query, maxResults) for the cache TTL.
func (a *Aggregator) SearchWithFallback(ctx context.Context, query string, maxResults int) []Result {
	if maxResults <= 0 {
		maxResults = a.defaultMax
	}
	digest := provider.Digest(query)
	key := cache.SearchKey(query, maxResults)
	if cached, ok := a.cache.Get(key); ok {
		a.logger.Debug().Str("digest", digest).Msg("search cache hit")
		return slices.Clone(cached)
	}

	for _, p := range a.active(digest) {
		if ctx.Err() != nil {
			break
		}
		rs := a.call(ctx, p, query, maxResults, digest)
		if len(rs) == 0 {
			continue
		}
		out := rank(dedupe(rs), query, a.trust, maxResults)
		a.cache.Set(key, slices.Clone(out))
		return out
	}

	a.logger.Warn().Str("digest", digest).Msg("no search provider returned results")
	return []Result{}
}

// active returns the providers eligible for this call in priority order,
// leaving out those over their rate limit.
func (a *Aggregator) active(digest string) []*Provider {
	var out []*Provider
	for _, s := range a.table.Candidates(nil) {
		if !a.limiter.Allow(s.Name) {
			a.emit(provider.Event{Provider: s.Name, Skipped: true, ErrorKind: provider.KindRateLimited, Digest: digest})
			continue
		}
		out = append(out, a.providers[s.Name])
	}
	return out
}

// call runs one provider and converts every failure into an empty result.
func (a *Aggregator) call(ctx context.Context, p *Provider, query string, maxResults int, digest string) []Result {
	q := query
	if p.Transform != nil {
		q = p.Transform(query)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = a.timeout
	}

	start := time.Now()
	rs, err := provider.Invoke(ctx, p.Name, timeout, func(ctx context.Context) ([]Result, error) {
		return p.Client.Search(ctx, q, maxResults)
	})
	latency := time.Since(start)

	if err != nil {
		pe := provider.Classify(p.Name, err)
		if ctx.Err() != nil {
			a.logger.Debug().Str("provider", p.Name).Str("digest", digest).Msg("search call abandoned")
			return nil
		}
		h, _ := a.table.RecordFailure(p.Name, pe)
		a.emit(provider.Event{Provider: p.Name, ErrorKind: pe.Kind, Error: pe.Error(), Latency: latency, Digest: digest})
		a.logger.Warn().
			Str("provider", p.Name).
			Str("kind", string(pe.Kind)).
			Str("digest", digest).
			Str("health", h.String()).
			Err(pe).
			Msg("search provider failed")
		return nil
	}

	_ = a.table.RecordSuccess(p.Name)
	out := make([]Result, 0, len(rs))
	for i, r := range rs {
		if r.URL == "" {
			continue
		}
		r.Source = p.Name
		r.Rank = i + 1
		r.Score = 0
		out = append(out, r)
	}
	a.emit(provider.Event{Provider: p.Name, Success: true, Latency: latency, Results: len(out), Digest: digest})
	return out
}

// Reset restores a provider's error budget.
func (a *Aggregator) Reset(name string) error {
	return a.table.Reset(name)
}

// ResetAll restores every provider's error budget.
func (a *Aggregator) ResetAll() {
	a.table.ResetAll()
}

// Providers returns a snapshot of every provider's health.
func (a *Aggregator) Providers() []provider.State {
	return a.table.Snapshot()
}

func (a *Aggregator) emit(ev provider.Event) {
	if a.observer == nil {
		return
	}
	ev.Op = provider.OpSearch
	ev.Time = time.Now()
	if s, ok := a.table.Get(ev.Provider); ok {
		ev.Health = s.Health
	}
	a.observer.Observe(ev)
}

// CacheStats reports fallback-cache usage.
func (a *Aggregator) CacheStats() cache.Stats {
	return a.cache.Stats()
}
