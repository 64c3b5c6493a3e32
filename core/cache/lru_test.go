package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRU(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})

	l.Put("a", 1)
	l.Put("b", 2)

	v, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	// "b" is now least recently used and gets evicted
	l.Put("c", 3)
	_, ok = l.Get("b")
	require.False(t, ok)

	_, ok = l.Get("a")
	require.True(t, ok)
	_, ok = l.Get("c")
	require.True(t, ok)
}

func TestLRU_Delete(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 4})
	l.Put("a", 1)
	l.Delete("a")
	_, ok := l.Get("a")
	require.False(t, ok)
}

func TestLRU_Concurrent(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 64})
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 1000; j++ {
				key := fmt.Sprintf("k-%d", j%100)
				l.Put(key, j)
				l.Get(key)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}

func TestTyped(t *testing.T) {
	c := NewTyped[string](NewLRU(LRUOpts{Size: 4}))
	c.Put("k", "v")
	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	c.Delete("k")
	_, ok = c.Get("k")
	require.False(t, ok)
}

func TestNop(t *testing.T) {
	n := NewNop()
	n.Put("k", 1)
	_, ok := n.Get("k")
	require.False(t, ok)
}
