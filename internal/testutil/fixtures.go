package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/allaspectsdev/scoutman/internal/router"
	"github.com/allaspectsdev/scoutman/internal/search"
)

// ErrInjected is the failure returned by scripted fakes.
var ErrInjected = errors.New("injected failure")

// FakeGenerator replies with Reply, or fails while Fail is set. It records
// every call it receives.
type FakeGenerator struct {
	mu    sync.Mutex
	Reply string
	Fail  bool
	calls []router.Call
}

func (g *FakeGenerator) Generate(_ context.Context, call router.Call) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
	if g.Fail {
		return "", ErrInjected
	}
	return g.Reply, nil
}

// SetFail toggles failure injection.
func (g *FakeGenerator) SetFail(fail bool) {
	g.mu.Lock()
	g.Fail = fail
	g.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (g *FakeGenerator) Calls() []router.Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]router.Call(nil), g.calls...)
}

// FakeSearcher returns a fixed result list, or fails while Fail is set.
type FakeSearcher struct {
	mu      sync.Mutex
	Results []search.Result
	Fail    bool
	queries []string
}

func (s *FakeSearcher) Search(_ context.Context, query string, maxResults int) ([]search.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if s.Fail {
		return nil, ErrInjected
	}
	out := append([]search.Result(nil), s.Results...)
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// Queries returns a copy of the received queries.
func (s *FakeSearcher) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// SampleResults returns a small result set about food labeling.
func SampleResults(source string) []search.Result {
	return []search.Result{
		{Title: "Food labeling guide", URL: "https://www.fda.gov/food/labeling", Snippet: "Requirements for food labeling in the United States."},
		{Title: "Nutrition facts label", URL: "https://example.com/nutrition-facts", Snippet: "How to read the nutrition facts label."},
		{Title: "Allergen rules", URL: "https://example.org/allergens?utm_source=" + source, Snippet: "Major food allergen labeling."},
	}
}
