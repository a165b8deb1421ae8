package cache

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
)

// SearchKey computes a deterministic SHA-256 key from a search query and its
// result limit. Queries are compared case-insensitively with runs of
// whitespace collapsed, so "Foo  bar" and "foo bar" share an entry.
func SearchKey(query string, maxResults int) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(query), " "))))
	h.Write([]byte{0}) // separator
	h.Write([]byte(strconv.Itoa(maxResults)))
	return fmt.Sprintf("%x", h.Sum(nil))
}
