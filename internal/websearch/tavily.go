package websearch

import (
	"context"

	"github.com/allaspectsdev/scoutman/internal/search"
	"github.com/allaspectsdev/scoutman/internal/upstream"
)

// Tavily queries the Tavily search API.
type Tavily struct {
	name   string
	url    string
	apiKey  string
	recency string
	client  *upstream.Client
}

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results,omitempty"`
	SearchDepth string `json:"search_depth,omitempty"`
	TimeRange   string `json:"time_range,omitempty"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	var resp tavilyResponse
	err := t.client.Do(ctx, upstream.Request{
		Provider: t.name,
		URL:      t.url,
		Headers:  map[string]string{"Authorization": "Bearer " + t.apiKey},
		Body:     tavilyRequest{Query: query, MaxResults: maxResults, SearchDepth: "basic", TimeRange: t.recency},
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]search.Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, search.Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
