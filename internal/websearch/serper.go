package websearch

import (
	"context"

	"github.com/allaspectsdev/scoutman/internal/search"
	"github.com/allaspectsdev/scoutman/internal/upstream"
)

// Serper queries google.serper.dev.
type Serper struct {
	name     string
	url      string
	apiKey   string
	country  string
	language string
	recency  string
	client   *upstream.Client
}

// serperTBS maps a recency hint to Google's tbs qdr filter.
var serperTBS = map[string]string{
	RecencyDay:   "qdr:d",
	RecencyWeek:  "qdr:w",
	RecencyMonth: "qdr:m",
	RecencyYear:  "qdr:y",
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num,omitempty"`
	GL  string `json:"gl,omitempty"`
	HL  string `json:"hl,omitempty"`
	TBS string `json:"tbs,omitempty"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

func (s *Serper) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	var resp serperResponse
	err := s.client.Do(ctx, upstream.Request{
		Provider: s.name,
		URL:      s.url,
		Headers:  map[string]string{"X-API-KEY": s.apiKey},
		Body:     serperRequest{Q: query, Num: maxResults, GL: s.country, HL: s.language, TBS: serperTBS[s.recency]},
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]search.Result, 0, len(resp.Organic))
	for _, r := range resp.Organic {
		out = append(out, search.Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}
