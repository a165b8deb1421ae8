package websearch

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/allaspectsdev/scoutman/internal/search"
	"github.com/allaspectsdev/scoutman/internal/upstream"
)

// googleMaxNum is the largest page size the Custom Search API accepts.
const googleMaxNum = 10

// Google queries the Google Custom Search JSON API.
type Google struct {
	name     string
	url      string
	apiKey   string
	cx       string
	country  string
	language string
	recency  string
	client   *upstream.Client
}

var googleDateRestrict = map[string]string{
	RecencyDay:   "d1",
	RecencyWeek:  "w1",
	RecencyMonth: "m1",
	RecencyYear:  "y1",
}

type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Mime    string `json:"mime"`
	} `json:"items"`
}

func (g *Google) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	num := maxResults
	if num <= 0 || num > googleMaxNum {
		num = googleMaxNum
	}
	params := url.Values{}
	params.Set("key", g.apiKey)
	params.Set("cx", g.cx)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(num))
	if g.country != "" {
		params.Set("gl", g.country)
	}
	if g.language != "" {
		params.Set("hl", g.language)
	}
	if dr := googleDateRestrict[g.recency]; dr != "" {
		params.Set("dateRestrict", dr)
	}

	var resp googleResponse
	err := g.client.Do(ctx, upstream.Request{
		Provider: g.name,
		Method:   http.MethodGet,
		URL:      g.url,
		Query:    params,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]search.Result, 0, len(resp.Items))
	for _, item := range resp.Items {
		// Skip PDFs and other non-HTML documents.
		if item.Mime != "" && !strings.Contains(item.Mime, "html") {
			continue
		}
		out = append(out, search.Result{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
	}
	return out, nil
}
