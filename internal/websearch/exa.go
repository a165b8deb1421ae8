package websearch

import (
	"context"
	"time"

	"github.com/allaspectsdev/scoutman/internal/search"
	"github.com/allaspectsdev/scoutman/internal/upstream"
)

// Exa queries the Exa neural search API.
type Exa struct {
	name   string
	url    string
	apiKey  string
	recency string
	now     func() time.Time
	client  *upstream.Client
}

type exaRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults,omitempty"`
	// StartPublishedDate is an ISO 8601 lower bound on publication time.
	StartPublishedDate string `json:"startPublishedDate,omitempty"`
	Contents   struct {
		Text struct {
			MaxCharacters int `json:"maxCharacters"`
		} `json:"text"`
	} `json:"contents"`
}

type exaResponse struct {
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Text  string `json:"text"`
	} `json:"results"`
}

func (e *Exa) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	req := exaRequest{Query: query, NumResults: maxResults}
	req.Contents.Text.MaxCharacters = 500
	if w := recencyWindow(e.recency); w > 0 {
		req.StartPublishedDate = e.now().UTC().Add(-w).Format(time.RFC3339)
	}

	var resp exaResponse
	err := e.client.Do(ctx, upstream.Request{
		Provider: e.name,
		URL:      e.url,
		Headers:  map[string]string{"x-api-key": e.apiKey},
		Body:     req,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]search.Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, search.Result{Title: r.Title, URL: r.URL, Snippet: r.Text})
	}
	return out, nil
}
