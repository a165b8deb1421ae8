package router

import (
	"context"
	"time"
)

// Request is a provider-agnostic text generation request.
type Request struct {
	Prompt       string  `json:"prompt"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// Call is a Request after provider-specific parameter mapping.
type Call struct {
	Model        string
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Generator is the capability a generation provider exposes. Implementations
// return a *provider.Error on failure; an empty string with a nil error is
// treated as a failure by the router.
type Generator interface {
	Generate(ctx context.Context, call Call) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, call Call) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, call Call) (string, error) {
	return f(ctx, call)
}

// Limits holds the parameter mapping for one provider.
type Limits struct {
	Model string
	// MaxTokens is the provider's hard output ceiling. Zero means no ceiling.
	MaxTokens int
	// DefaultMaxTokens is used when the request leaves MaxTokens unset.
	DefaultMaxTokens int
	// ContextWindow is the total token budget of the model. When set, the
	// output budget is reduced so prompt plus output fit.
	ContextWindow  int
	MinTemperature float64
	// MaxTemperature of zero leaves temperature unclamped.
	MaxTemperature float64
}

// Provider is a generation backend registered with the router. A nil Client
// marks the provider as unconfigured.
type Provider struct {
	Name        string
	Priority    int
	MaxFailures int
	Timeout     time.Duration
	Limits      Limits
	Client      Generator
}

// TokenCounter counts the tokens a prompt will occupy for a model.
type TokenCounter interface {
	CountPrompt(model, system, prompt string) int
}

// Attempt records one provider tried during a Generate call.
type Attempt struct {
	Provider  string        `json:"provider"`
	Skipped   bool          `json:"skipped,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
}

// Response is the outcome of Generate. Callers check Success; a failed
// generation is a value, never a returned error.
type Response struct {
	Success      bool      `json:"success"`
	Content      string    `json:"content"`
	ProviderUsed string    `json:"provider_used,omitempty"`
	Error        string    `json:"error,omitempty"`
	Attempts     []Attempt `json:"attempts,omitempty"`
}
