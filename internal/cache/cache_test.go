package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSearchKey_SameInputsSameKey(t *testing.T) {
	assert.Equal(t, SearchKey("coffee shops", 10), SearchKey("coffee shops", 10))
}

func TestSearchKey_NormalizesQuery(t *testing.T) {
	assert.Equal(t, SearchKey("Coffee   Shops ", 10), SearchKey("coffee shops", 10))
}

func TestSearchKey_DifferentLimitDifferentKey(t *testing.T) {
	assert.NotEqual(t, SearchKey("coffee shops", 10), SearchKey("coffee shops", 5))
	assert.NotEqual(t, SearchKey("coffee shops", 10), SearchKey("tea shops", 10))
}

func TestCache_SetGet(t *testing.T) {
	c := New[[]string](10, time.Hour)
	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k", []string{"a", "b"})
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, v)
	assert.Equal(t, 1, c.Len())

	c.Set("k", []string{"c"})
	v, _ = c.Get("k")
	assert.Equal(t, []string{"c"}, v, "last write wins")

	c.Remove("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_Expires(t *testing.T) {
	c := New[int](10, 30*time.Millisecond)
	c.Set("k", 1)
	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCache_Defaults(t *testing.T) {
	c := New[int](0, 0)
	assert.Equal(t, DefaultTTL, c.TTL())
}

func TestCache_EvictsOldest(t *testing.T) {
	c := New[int](2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](100, time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			c.Set(key, i)
			c.Get(key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCache_Stats(t *testing.T) {
	c := New[int](10, time.Hour)
	c.Get("missing")
	c.Set("k", 1)
	c.Get("k")
	c.Get("k")

	assert.Equal(t, Stats{Hits: 2, Misses: 1, Size: 1}, c.Stats())
}
