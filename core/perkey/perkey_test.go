package perkey

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScheduler_OrderPerKey(t *testing.T) {
	s := New[string](Opts{})
	defer s.Close()

	var mu sync.Mutex
	got := make([]int, 0, 100)

	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, s.Go("k", func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	s.Close()

	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestScheduler_Do(t *testing.T) {
	s := New[string](Opts{})
	defer s.Close()

	ran := false
	require.NoError(t, s.Do(context.Background(), "k", func() { ran = true }))
	require.True(t, ran)
}

func TestScheduler_Closed(t *testing.T) {
	s := New[string](Opts{})
	s.Close()
	require.ErrorIs(t, s.Go("k", func() {}), ErrClosed)
	require.ErrorIs(t, s.Do(context.Background(), "k", func() {}), ErrClosed)
}

func TestScheduler_ConcurrentKeys(t *testing.T) {
	s := New[int](Opts{Buffer: 8})
	var wg sync.WaitGroup
	var counters [8]int
	for k := 0; k < 8; k++ {
		for i := 0; i < 50; i++ {
			k := k
			wg.Add(1)
			require.NoError(t, s.Go(k, func() {
				counters[k]++
				wg.Done()
			}))
		}
	}
	wg.Wait()
	s.Close()
	for _, c := range counters {
		require.Equal(t, 50, c)
	}
}
