package search

import (
	"context"
	"strings"
	"time"
)

// Result is a single web search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
	// Rank is the 1-based position the backend returned the hit at.
	Rank int `json:"rank"`
}

// Searcher is the capability a search backend exposes. Implementations
// return a *provider.Error on failure.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// SearcherFunc adapts a function to the Searcher interface.
type SearcherFunc func(ctx context.Context, query string, maxResults int) ([]Result, error)

func (f SearcherFunc) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	return f(ctx, query, maxResults)
}

// Provider is a search backend registered with the aggregator. A nil Client
// marks the provider as unconfigured.
type Provider struct {
	Name     string
	Priority int
	// MaxErrors is the error budget. A provider that reaches it is skipped
	// until reset.
	MaxErrors int
	// Trust is added to the score of every result this provider returns.
	Trust   float64
	Timeout time.Duration
	// Transform rewrites the query before it is sent, typically to append
	// locale or recency hints. Nil leaves the query unchanged.
	Transform func(query string) string
	Client    Searcher
}

// AppendHints returns a Transform that appends the non-empty hints to the
// query, separated by spaces.
func AppendHints(hints ...string) func(string) string {
	var parts []string
	for _, h := range hints {
		if h = strings.TrimSpace(h); h != "" {
			parts = append(parts, h)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	suffix := " " + strings.Join(parts, " ")
	return func(q string) string {
		return strings.TrimSpace(q) + suffix
	}
}
