package search

import (
	"net/url"
	"sort"
	"strings"
	"unicode"
)

const (
	titleWeight   = 0.6
	snippetWeight = 0.4
	// institutionBonus is added for .gov and .edu hosts.
	institutionBonus = 0.2
	lengthCap        = 300
	lengthWeight     = 0.1
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "the": true, "to": true,
	"with": true, "what": true, "how": true,
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// queryTerms returns the distinct, meaningful lowercase terms of a query.
func queryTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, tok := range tokenize(query) {
		if len([]rune(tok)) < 2 || stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, tok)
	}
	return terms
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(s) {
		set[tok] = true
	}
	return set
}

// termOverlap is the weighted fraction of query terms present in the title
// and the snippet, in [0, 1].
func termOverlap(r Result, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	title, snippet := tokenSet(r.Title), tokenSet(r.Snippet)
	var inTitle, inSnippet int
	for _, t := range terms {
		if title[t] {
			inTitle++
		}
		if snippet[t] {
			inSnippet++
		}
	}
	n := float64(len(terms))
	return titleWeight*float64(inTitle)/n + snippetWeight*float64(inSnippet)/n
}

// sourceTrust is the provider's trust weight plus a bonus for
// institutional hosts.
func sourceTrust(r Result, providerTrust float64) float64 {
	trust := providerTrust
	u, err := url.Parse(r.URL)
	if err != nil {
		return trust
	}
	host := strings.ToLower(u.Hostname())
	for _, tld := range []string{".gov", ".edu"} {
		if strings.HasSuffix(host, tld) || strings.Contains(host, tld+".") {
			return trust + institutionBonus
		}
	}
	return trust
}

func contentLengthBonus(r Result) float64 {
	n := len([]rune(strings.TrimSpace(r.Snippet)))
	if n > lengthCap {
		n = lengthCap
	}
	return float64(n) / lengthCap * lengthWeight
}

// rank scores every result, sorts by descending score and truncates to
// limit. The sort is stable, so ties keep their merge order.
func rank(results []Result, query string, trust map[string]float64, limit int) []Result {
	terms := queryTerms(query)
	for i := range results {
		r := &results[i]
		r.Score = termOverlap(*r, terms) + sourceTrust(*r, trust[r.Source]) + contentLengthBonus(*r)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
