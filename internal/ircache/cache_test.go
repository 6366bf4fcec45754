package ircache_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulseengine/wrt-sub004/internal/ircache"
)

func TestCacheGetMiss(t *testing.T) {
	c := ircache.New(2)
	_, ok := c.Get("missing")
	require.False(t, ok)
}

func TestCachePutThenGet(t *testing.T) {
	c := ircache.New(2)
	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := ircache.New(2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3) // evicts "a"

	_, ok := c.Get("a")
	require.False(t, ok)
	v, ok := c.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.Equal(t, 2, c.Len())
}

func TestCacheGetRefreshesRecency(t *testing.T) {
	c := ircache.New(2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a")      // "a" now most recently used
	c.Put("c", 3) // evicts "b", not "a"

	_, ok := c.Get("b")
	require.False(t, ok)
	_, ok = c.Get("a")
	require.True(t, ok)
}

func TestCacheConcurrentAccessDoesNotRace(t *testing.T) {
	c := ircache.New(16)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Put(i, i*2)
			c.Get(i)
		}()
	}
	wg.Wait()
}
