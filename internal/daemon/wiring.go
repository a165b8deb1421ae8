package daemon

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/scoutman/internal/cache"
	"github.com/allaspectsdev/scoutman/internal/config"
	"github.com/allaspectsdev/scoutman/internal/llm"
	"github.com/allaspectsdev/scoutman/internal/provider"
	"github.com/allaspectsdev/scoutman/internal/router"
	"github.com/allaspectsdev/scoutman/internal/search"
	"github.com/allaspectsdev/scoutman/internal/tokenizer"
	"github.com/allaspectsdev/scoutman/internal/upstream"
	"github.com/allaspectsdev/scoutman/internal/websearch"
)

// KeySource resolves the API key for a provider. *vault.Vault satisfies it.
type KeySource interface {
	Resolve(provider, keyRef string) (string, error)
}

// Stack is the wired generation router and search aggregator. Either may be
// nil when its config section lists no enabled provider.
type Stack struct {
	Router *router.Router
	Search *search.Aggregator
	Cache  *cache.Cache[[]search.Result]
}

// Build creates the router and aggregator described by cfg. A provider whose
// key cannot be resolved or whose adapter cannot be built is still
// registered, without a client, so it shows up as unconfigured.
func Build(cfg *config.Config, keys KeySource, observer provider.Observer, logger zerolog.Logger) (*Stack, error) {
	client := upstream.NewClient(upstream.RetryConfig{
		MaxAttempts: cfg.Resilience.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.Resilience.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Resilience.RetryMaxDelayMs) * time.Millisecond,
	}).WithLogger(logger)

	st := &Stack{}

	rtr, err := buildRouter(cfg, keys, client, observer, logger)
	if err != nil {
		return nil, err
	}
	st.Router = rtr

	st.Cache = cache.New[[]search.Result](cfg.Search.CacheSize, cfg.Search.CacheTTL())
	agg, err := buildAggregator(cfg, keys, client, st.Cache, observer, logger)
	if err != nil {
		return nil, err
	}
	st.Search = agg

	if st.Router == nil && st.Search == nil {
		return nil, errors.New("no generation or search provider is enabled")
	}
	return st, nil
}

func buildRouter(cfg *config.Config, keys KeySource, client *upstream.Client, observer provider.Observer, logger zerolog.Logger) (*router.Router, error) {
	var providers []router.Provider
	limits := make(map[string]provider.Limit)

	for _, t := range cfg.Generation.Providers {
		if !t.Enabled {
			continue
		}
		p := router.Provider{
			Name:        t.Name,
			Priority:    t.Priority,
			MaxFailures: t.MaxFailures,
			Timeout:     t.TimeoutDuration(),
			Limits: router.Limits{
				Model:            t.Model,
				MaxTokens:        t.MaxTokens,
				DefaultMaxTokens: t.DefaultMaxTokens,
				ContextWindow:    t.ContextWindow,
				MinTemperature:   t.MinTemperature,
				MaxTemperature:   t.MaxTemperature,
			},
		}
		key, err := keys.Resolve(t.Name, t.KeyRef)
		if err != nil {
			logger.Warn().Err(err).Str("provider", t.Name).Msg("no API key for generation provider; it will be unavailable")
		} else {
			gen, err := llm.New(llm.Config{Name: t.Name, Kind: t.Kind, BaseURL: t.APIBase, APIKey: key}, client)
			if err != nil {
				logger.Warn().Err(err).Str("provider", t.Name).Msg("generation provider not usable")
			} else {
				p.Client = gen
			}
		}
		providers = append(providers, p)
		limits[t.Name] = provider.Limit{Rate: t.Rate, Burst: t.Burst}
	}

	if len(providers) == 0 {
		logger.Warn().Msg("no generation providers enabled")
		return nil, nil
	}

	rtr, err := router.New(providers,
		router.WithCooldown(cfg.Generation.Cooldown()),
		router.WithRateLimiter(provider.NewRateLimiter(limits)),
		router.WithTokenCounter(tokenizer.New()),
		router.WithObserver(observer),
		router.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("building router: %w", err)
	}
	return rtr, nil
}

func buildAggregator(cfg *config.Config, keys KeySource, client *upstream.Client, c *cache.Cache[[]search.Result], observer provider.Observer, logger zerolog.Logger) (*search.Aggregator, error) {
	var providers []search.Provider
	limits := make(map[string]provider.Limit)

	for _, t := range cfg.Search.Providers {
		if !t.Enabled {
			continue
		}
		p := search.Provider{
			Name:      t.Name,
			Priority:  t.Priority,
			MaxErrors: t.MaxErrors,
			Trust:     t.Trust,
			Timeout:   t.TimeoutDuration(),
			Transform: search.AppendHints(t.QueryHints...),
		}
		key, err := keys.Resolve(t.Name, t.KeyRef)
		if err != nil {
			logger.Warn().Err(err).Str("provider", t.Name).Msg("no API key for search provider; it will be unavailable")
		} else {
			s, err := websearch.New(websearch.Config{
				Name:     t.Name,
				Kind:     t.Kind,
				BaseURL:  t.APIBase,
				APIKey:   key,
				EngineID: t.EngineID,
				Country:  t.Country,
				Language: t.Language,
				Recency:  t.Recency,
			}, client)
			if err != nil {
				logger.Warn().Err(err).Str("provider", t.Name).Msg("search provider not usable")
			} else {
				p.Client = s
			}
		}
		providers = append(providers, p)
		limits[t.Name] = provider.Limit{Rate: t.Rate, Burst: t.Burst}
	}

	if len(providers) == 0 {
		logger.Warn().Msg("no search providers enabled")
		return nil, nil
	}

	agg, err := search.New(providers,
		search.WithWorkers(cfg.Search.Workers),
		search.WithDefaultMaxResults(cfg.Search.DefaultMaxResults),
		search.WithCache(c),
		search.WithRateLimiter(provider.NewRateLimiter(limits)),
		search.WithObserver(observer),
		search.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("building search aggregator: %w", err)
	}
	return agg, nil
}
