package sessionid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAllocator(t *testing.T) {
	a := NewAllocator()
	require.NotNil(t, a)
	assert.Equal(t, uint32(1), a.Next())
}

func TestAllocator_Next(t *testing.T) {
	t.Run("ids are sequential", func(t *testing.T) {
		a := NewAllocator()
		for want := uint32(1); want <= 10; want++ {
			assert.Equal(t, want, a.Next())
		}
	})

	t.Run("zero is skipped on wraparound", func(t *testing.T) {
		a := NewAllocator()
		a.last.Store(^uint32(0) - 1)

		assert.Equal(t, ^uint32(0), a.Next())
		assert.Equal(t, uint32(1), a.Next())
	})

	t.Run("concurrent allocations are unique", func(t *testing.T) {
		a := NewAllocator()

		const goroutines = 8
		const perGoroutine = 1000

		var wg sync.WaitGroup
		ids := make([][]uint32, goroutines)
		for g := range goroutines {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				out := make([]uint32, 0, perGoroutine)
				for range perGoroutine {
					out = append(out, a.Next())
				}
				ids[g] = out
			}(g)
		}
		wg.Wait()

		seen := make(map[uint32]bool, goroutines*perGoroutine)
		for _, batch := range ids {
			for _, id := range batch {
				assert.False(t, seen[id], "duplicate id %d", id)
				seen[id] = true
			}
		}
		assert.Len(t, seen, goroutines*perGoroutine)
	})
}
