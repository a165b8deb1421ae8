// Package llm contains HTTP adapters for text generation providers. Every
// adapter satisfies router.Generator and reports failures as
// *provider.Error values.
package llm

import (
	"fmt"
	"strings"

	"github.com/allaspectsdev/scoutman/internal/router"
	"github.com/allaspectsdev/scoutman/internal/upstream"
)

// Provider kinds understood by New.
const (
	KindGemini    = "gemini"
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)

// defaultBaseURLs maps a provider name or kind to its public API root.
var defaultBaseURLs = map[string]string{
	"gemini":     "https://generativelanguage.googleapis.com/v1beta",
	"groq":       "https://api.groq.com/openai/v1",
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"anthropic":  "https://api.anthropic.com/v1",
}

// kindByName infers the wire format from well-known provider names.
var kindByName = map[string]string{
	"gemini":     KindGemini,
	"groq":       KindOpenAI,
	"openai":     KindOpenAI,
	"openrouter": KindOpenAI,
	"anthropic":  KindAnthropic,
}

// Config describes one generation endpoint.
type Config struct {
	Name    string
	Kind    string
	BaseURL string
	APIKey  string
}

// ResolveKind returns the configured kind, or the kind implied by the
// provider name.
func (c Config) ResolveKind() string {
	if c.Kind != "" {
		return strings.ToLower(c.Kind)
	}
	return kindByName[strings.ToLower(c.Name)]
}

func (c Config) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if u, ok := defaultBaseURLs[strings.ToLower(c.Name)]; ok {
		return u
	}
	return defaultBaseURLs[c.ResolveKind()]
}

// New builds the adapter for cfg. It returns an error when the kind is
// unknown, no base URL can be determined, or the API key is missing.
func New(cfg Config, client *upstream.Client) (router.Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: %s: api key not configured", cfg.Name)
	}
	base := cfg.baseURL()
	if base == "" {
		return nil, fmt.Errorf("llm: %s: no base url", cfg.Name)
	}

	switch cfg.ResolveKind() {
	case KindGemini:
		return &Gemini{name: cfg.Name, baseURL: base, apiKey: cfg.APIKey, client: client}, nil
	case KindOpenAI:
		return &OpenAI{name: cfg.Name, baseURL: base, apiKey: cfg.APIKey, client: client}, nil
	case KindAnthropic:
		return &Anthropic{name: cfg.Name, baseURL: base, apiKey: cfg.APIKey, client: client}, nil
	default:
		return nil, fmt.Errorf("llm: %s: unknown provider kind %q", cfg.Name, cfg.Kind)
	}
}
