// Package websearch contains HTTP adapters for web search providers. Every
// adapter satisfies search.Searcher.
package websearch

import (
	"fmt"
	"strings"
	"time"

	"github.com/allaspectsdev/scoutman/internal/search"
	"github.com/allaspectsdev/scoutman/internal/upstream"
)

// Provider kinds understood by New.
const (
	KindSerper = "serper"
	KindGoogle = "google"
	KindTavily = "tavily"
	KindExa    = "exa"
)

// Recency windows accepted in Config.Recency. Empty means no restriction.
const (
	RecencyDay   = "day"
	RecencyWeek  = "week"
	RecencyMonth = "month"
	RecencyYear  = "year"
)

// Recencies lists the valid Config.Recency values.
var Recencies = []string{RecencyDay, RecencyWeek, RecencyMonth, RecencyYear}

// recencyWindow returns the look-back for a recency hint, or zero.
func recencyWindow(recency string) time.Duration {
	switch recency {
	case RecencyDay:
		return 24 * time.Hour
	case RecencyWeek:
		return 7 * 24 * time.Hour
	case RecencyMonth:
		return 30 * 24 * time.Hour
	case RecencyYear:
		return 365 * 24 * time.Hour
	}
	return 0
}

var defaultBaseURLs = map[string]string{
	KindSerper: "https://google.serper.dev/search",
	KindGoogle: "https://www.googleapis.com/customsearch/v1",
	KindTavily: "https://api.tavily.com/search",
	KindExa:    "https://api.exa.ai/search",
}

// Config describes one search endpoint.
type Config struct {
	Name    string
	Kind    string
	BaseURL string
	APIKey  string
	// EngineID is the Google programmable search engine id (cx).
	EngineID string
	// Country and Language are passed as locale hints where supported.
	Country  string
	Language string
	// Recency restricts results to the last day, week, month or year.
	Recency string
}

// ResolveKind returns the configured kind or, when empty, the provider name.
func (c Config) ResolveKind() string {
	if c.Kind != "" {
		return strings.ToLower(c.Kind)
	}
	return strings.ToLower(c.Name)
}

// New builds the adapter for cfg.
func New(cfg Config, client *upstream.Client) (search.Searcher, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("websearch: %s: api key not configured", cfg.Name)
	}
	kind := cfg.ResolveKind()
	recency := strings.ToLower(cfg.Recency)
	if recency != "" && recencyWindow(recency) == 0 {
		return nil, fmt.Errorf("websearch: %s: unknown recency %q", cfg.Name, cfg.Recency)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURLs[kind]
	}

	switch kind {
	case KindSerper:
		return &Serper{name: cfg.Name, url: base, apiKey: cfg.APIKey, country: cfg.Country, language: cfg.Language, recency: recency, client: client}, nil
	case KindGoogle:
		if cfg.EngineID == "" {
			return nil, fmt.Errorf("websearch: %s: engine_id (cx) not configured", cfg.Name)
		}
		return &Google{name: cfg.Name, url: base, apiKey: cfg.APIKey, cx: cfg.EngineID, country: cfg.Country, language: cfg.Language, recency: recency, client: client}, nil
	case KindTavily:
		return &Tavily{name: cfg.Name, url: base, apiKey: cfg.APIKey, recency: recency, client: client}, nil
	case KindExa:
		return &Exa{name: cfg.Name, url: base, apiKey: cfg.APIKey, recency: recency, now: time.Now, client: client}, nil
	default:
		return nil, fmt.Errorf("websearch: %s: unknown provider kind %q", cfg.Name, kind)
	}
}
